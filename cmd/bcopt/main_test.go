package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/instruction"
	"github.com/chazu/bcopt/image"
	"github.com/chazu/bcopt/report"
)

// writeImage writes an image holding a class with a tail recursive
// countdown(I)V to dir/name.
func writeImage(t *testing.T, dir, name string) {
	t.Helper()
	c := classfile.NewClass(classfile.AccPublic, "app/Main", classfile.ObjectClass)
	self := c.Pool.InternMethodref("app/Main", "countdown", "(I)V")
	b := instruction.NewBuilder()
	done := b.NewLabel()
	b.Load("I", 0)
	b.EmitJump(instruction.OpIfeq, done)
	b.Load("I", 0)
	b.EmitOp(instruction.OpIconst1)
	b.EmitOp(instruction.OpIsub)
	b.EmitConstant(instruction.OpInvokestatic, self)
	b.EmitOp(instruction.OpReturn)
	b.Mark(done)
	b.EmitOp(instruction.OpReturn)
	c.AddMethod(classfile.AccPublic|classfile.AccStatic, "countdown", "(I)V", classfile.NewCodeAttribute(2, 1, b.Bytes()))

	p := classfile.NewClassPool()
	if err := p.Add(c); err != nil {
		t.Fatal(err)
	}
	if err := image.WriteFile(filepath.Join(dir, name), p); err != nil {
		t.Fatal(err)
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "bcopt.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestOptimizeWithConfig(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "in.image")
	writeConfig(t, dir, `
[image]
input = "in.image"
output = "out.image"

[report]
output = "run.cbor"
database = "runs.db"
`)
	sub := filepath.Join(dir, "src")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}

	r, err := optimize(context.Background(), invocation{configDir: sub})
	if err != nil {
		t.Fatal(err)
	}
	if r.Count(report.PassTailRecursion) != 1 {
		t.Errorf("tail recursion records = %d", r.Count(report.PassTailRecursion))
	}

	out, err := image.ReadFile(filepath.Join(dir, "out.image"))
	if err != nil {
		t.Fatal(err)
	}
	m := out.Class("app/Main").FindMethod("countdown", "(I)V")
	if strings.Contains(instruction.Disassemble(m.Code().Code), "invokestatic") {
		t.Errorf("self call survived:\n%s", instruction.Disassemble(m.Code().Code))
	}

	data, err := os.ReadFile(filepath.Join(dir, "run.cbor"))
	if err != nil {
		t.Fatal(err)
	}
	saved, err := report.Unmarshal(data)
	if err != nil || saved.RunID != r.RunID {
		t.Errorf("saved report %v, err = %v", saved, err)
	}

	var buf bytes.Buffer
	if err := handleQueryCommand("runs", []string{"-db", filepath.Join(dir, "runs.db")}, "", &buf); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != r.RunID {
		t.Errorf("runs = %q", buf.String())
	}

	buf.Reset()
	if err := handleQueryCommand("summary", []string{r.RunID}, filepath.Join(dir, "runs.db"), &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), report.PassTailRecursion) {
		t.Errorf("summary = %q", buf.String())
	}

	printSummary(&buf, r)
	if !strings.Contains(buf.String(), r.RunID) {
		t.Errorf("summary output = %q", buf.String())
	}
}

func TestOptimizeFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "in.image")
	writeConfig(t, dir, `
[optimize]
tail-recursion = false

[image]
input = "missing.image"
`)
	in := filepath.Join(dir, "in.image")
	r, err := optimize(context.Background(), invocation{configDir: dir, input: in, parallelism: 2})
	if err != nil {
		t.Fatal(err)
	}
	if r.Count(report.PassTailRecursion) != 0 {
		t.Error("disabled pass ran")
	}
	// Without an output the input is rewritten in place.
	if _, err := image.ReadFile(in); err != nil {
		t.Fatal(err)
	}
}

func TestOptimizeErrors(t *testing.T) {
	tests := []struct {
		name   string
		config string
		inv    func(dir string) invocation
		want   string
	}{
		{"no input", "", func(dir string) invocation { return invocation{configDir: dir} }, "no input image"},
		{"missing image", "", func(dir string) invocation {
			return invocation{configDir: dir, input: filepath.Join(dir, "nope.image")}
		}, "nope.image"},
		{"bad config", "[run]\nparallelism = 0\n", func(dir string) invocation { return invocation{configDir: dir} }, "invalid configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.config != "" {
				writeConfig(t, dir, tt.config)
			}
			_, err := optimize(context.Background(), tt.inv(dir))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestQueryCommandErrors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	var buf bytes.Buffer
	if err := handleQueryCommand("runs", nil, "", &buf); err == nil {
		t.Error("runs without a database accepted")
	}
	if err := handleQueryCommand("summary", nil, db, &buf); err == nil {
		t.Error("summary without a run ID accepted")
	}
	if err := handleQueryCommand("summary", []string{"missing"}, db, &buf); err == nil {
		t.Error("summary of a missing run accepted")
	}
}
