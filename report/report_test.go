package report

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/instruction"
	"github.com/chazu/bcopt/info"
)

func sampleReport(t *testing.T) *Report {
	t.Helper()
	c := classfile.NewClass(classfile.AccPublic, "com/example/Main", classfile.ObjectClass)
	m := c.AddMethod(classfile.AccPrivate|classfile.AccStatic, "sum", "(II)I", nil)
	ref := c.Pool.InternMethodref("com/example/Main", "sum", "(II)I")

	r := New()
	r.Observer(PassTailRecursion).VisitInstruction(c, m, nil, 12, instruction.NewConstant(instruction.OpInvokestatic, ref))
	r.Observer(PassGeneralizeField).VisitInstruction(c, m, nil, 3, instruction.NewSimple(instruction.OpIconst1))
	r.Add(Record{Pass: PassInitializerRename, Class: "com/example/Point", Method: "<init>(Ljava/lang/Object;)V", Offset: -1, Detail: "(Ljava/lang/String;I)V"})
	r.Finish(2, []info.Fact{
		{Element: "com/example/Main", Kind: "ProgramClassInfo", Kept: true, Editable: true},
		{Element: "com/example/Main.sum(II)I", Kind: "ProgramMethodInfo", Editable: true},
	})
	return r
}

func TestReportRecords(t *testing.T) {
	r := sampleReport(t)
	if _, err := uuid.Parse(r.RunID); err != nil {
		t.Errorf("run ID %q: %v", r.RunID, err)
	}
	want := []Record{
		{PassGeneralizeField, "com/example/Main", "sum(II)I", 3, "iconst_1"},
		{PassTailRecursion, "com/example/Main", "sum(II)I", 12, "invokestatic com/example/Main.sum(II)I"},
		{PassInitializerRename, "com/example/Point", "<init>(Ljava/lang/Object;)V", -1, "(Ljava/lang/String;I)V"},
	}
	if !reflect.DeepEqual(r.Records, want) {
		t.Errorf("records = %+v\nwant %+v", r.Records, want)
	}
	if r.Count(PassTailRecursion) != 1 || r.Count(PassInitializerCall) != 0 {
		t.Errorf("counts = %d, %d", r.Count(PassTailRecursion), r.Count(PassInitializerCall))
	}
	if r.Classes != 2 || r.Elapsed < 0 {
		t.Errorf("classes = %d, elapsed = %s", r.Classes, r.Elapsed)
	}
}

func TestReportConcurrentAdd(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				r.Add(Record{Pass: PassGeneralizeMethod, Class: "C", Offset: i*100 + j})
			}
		}()
	}
	wg.Wait()
	r.Finish(1, nil)
	if len(r.Records) != 400 {
		t.Fatalf("records = %d", len(r.Records))
	}
	for i := 1; i < len(r.Records); i++ {
		if r.Records[i-1].Offset > r.Records[i].Offset {
			t.Fatalf("records not sorted at %d", i)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	r := sampleReport(t)
	data, err := Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != r.RunID || !got.Started.Equal(r.Started) || got.Elapsed != r.Elapsed || got.Classes != r.Classes {
		t.Errorf("header = %s %s %s %d", got.RunID, got.Started, got.Elapsed, got.Classes)
	}
	if !reflect.DeepEqual(got.Records, r.Records) || !reflect.DeepEqual(got.Facts, r.Facts) {
		t.Errorf("got %+v %+v", got.Records, got.Facts)
	}
	if _, err := Unmarshal([]byte{0xff}); err == nil {
		t.Error("garbage accepted")
	}

	path := filepath.Join(t.TempDir(), "report.cbor")
	if err := WriteFile(path, r); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "report.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	first := sampleReport(t)
	if err := s.Write(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := New()
	second.Add(Record{Pass: PassTailRecursion, Class: "A", Method: "f()V", Offset: 0})
	second.Finish(1, nil)
	if err := s.Write(ctx, second); err != nil {
		t.Fatal(err)
	}
	// Writing a run again replaces it.
	if err := s.Write(ctx, first); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx, first.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Started.Equal(first.Started) || got.Elapsed != first.Elapsed || got.Classes != 2 {
		t.Errorf("run = %s %s %d", got.Started, got.Elapsed, got.Classes)
	}
	if !reflect.DeepEqual(got.Records, first.Records) {
		t.Errorf("records = %+v", got.Records)
	}
	if !reflect.DeepEqual(got.Facts, first.Facts) {
		t.Errorf("facts = %+v", got.Facts)
	}

	summary, err := s.Summary(ctx, first.RunID)
	if err != nil {
		t.Fatal(err)
	}
	want := []PassCount{{PassGeneralizeField, 1}, {PassInitializerRename, 1}, {PassTailRecursion, 1}}
	if !reflect.DeepEqual(summary, want) {
		t.Errorf("summary = %v", summary)
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %v", runs)
	}

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestSQLiteSinkReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "report.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	r := sampleReport(t)
	if err := s.Write(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runs, err := s.Runs(ctx)
	if err != nil || len(runs) != 1 || runs[0] != r.RunID {
		t.Errorf("runs = %v, err = %v", runs, err)
	}
}
