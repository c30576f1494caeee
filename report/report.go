// Package report collects what an optimizer run changed and writes it as a
// CBOR document or into a SQLite database.
package report

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/instruction"
	"github.com/chazu/bcopt/info"
)

var log = commonlog.GetLogger("bcopt.report")

// Pass names used in records.
const (
	PassTailRecursion        = "tail-recursion"
	PassGeneralizeField      = "generalize-field"
	PassGeneralizeMethod     = "generalize-method"
	PassInitializerCall      = "initializer-call"
	PassInitializerRename    = "initializer-rename"
	PassDuplicateInitializer = "duplicate-initializer"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("report: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Record is one change made by a pass. Offset is the offset of the
// rewritten instruction before the rewrite, or -1 for changes that are not
// tied to an instruction.
type Record struct {
	Pass   string `cbor:"pass"`
	Class  string `cbor:"class"`
	Method string `cbor:"method,omitempty"`
	Offset int    `cbor:"offset"`
	Detail string `cbor:"detail,omitempty"`
}

// Report is the outcome of one run. It is safe for concurrent use while
// passes add records.
type Report struct {
	RunID   string        `cbor:"run"`
	Started time.Time     `cbor:"started"`
	Elapsed time.Duration `cbor:"elapsed"`
	Classes int           `cbor:"classes"`
	Records []Record      `cbor:"records"`
	Facts   []info.Fact   `cbor:"facts,omitempty"`

	mu sync.Mutex
}

// New starts a report with a fresh run ID.
func New() *Report {
	return &Report{
		RunID:   uuid.New().String(),
		Started: time.Now().Truncate(time.Second),
	}
}

// Add appends a record.
func (r *Report) Add(rec Record) {
	r.mu.Lock()
	r.Records = append(r.Records, rec)
	r.mu.Unlock()
}

// Observer returns an instruction visitor that records every instruction it
// is shown under pass. Passes show it the original instruction and offset.
func (r *Report) Observer(pass string) classfile.InstructionVisitor {
	return classfile.InstructionVisitorFunc(func(c *classfile.Class, m *classfile.Method, code *classfile.CodeAttribute, offset int, ins instruction.Instruction) {
		r.Add(Record{
			Pass:   pass,
			Class:  c.Name,
			Method: m.Name() + m.Descriptor(),
			Offset: offset,
			Detail: describe(c, ins),
		})
	})
}

// describe renders ins with its constant pool reference resolved.
func describe(c *classfile.Class, ins instruction.Instruction) string {
	k, ok := ins.(*instruction.Constant)
	if !ok {
		return ins.String()
	}
	switch c.Pool.Tag(k.Index) {
	case classfile.ConstantFieldref, classfile.ConstantMethodref, classfile.ConstantInterfaceMethodref:
		return fmt.Sprintf("%s %s.%s%s", k.Op, c.Pool.RefClassName(k.Index), c.Pool.RefName(k.Index), c.Pool.RefType(k.Index))
	}
	return ins.String()
}

// Count returns the number of records of pass.
func (r *Report) Count(pass string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.Records {
		if rec.Pass == pass {
			n++
		}
	}
	return n
}

// Finish stamps the elapsed time and sorts the records by class, method,
// offset and pass, so reports of parallel runs compare equal.
func (r *Report) Finish(classes int, facts []info.Fact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Elapsed = time.Since(r.Started).Round(time.Millisecond)
	r.Classes = classes
	r.Facts = facts
	slices.SortStableFunc(r.Records, func(a, b Record) int {
		return cmp.Or(
			cmp.Compare(a.Class, b.Class),
			cmp.Compare(a.Method, b.Method),
			cmp.Compare(a.Offset, b.Offset),
			cmp.Compare(a.Pass, b.Pass),
		)
	})
	log.Infof("run %s: %d classes, %d changes in %s", r.RunID, classes, len(r.Records), r.Elapsed)
}

// Marshal serializes a report to CBOR bytes.
func Marshal(r *Report) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cborEncMode.Marshal(r)
}

// Unmarshal deserializes a report from CBOR bytes.
func Unmarshal(data []byte) (*Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report: unmarshal: %w", err)
	}
	return &r, nil
}

// WriteFile writes the CBOR form of r to path.
func WriteFile(path string, r *Report) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}
