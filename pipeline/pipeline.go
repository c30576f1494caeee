// Package pipeline drives a full optimizer run over a class pool: keep
// marking, constructor specialization and disambiguation, then the code
// passes, one class per worker.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/descriptor"
	"github.com/chazu/bcopt/config"
	"github.com/chazu/bcopt/fixup"
	"github.com/chazu/bcopt/info"
	"github.com/chazu/bcopt/optimize"
	"github.com/chazu/bcopt/report"
)

var log = commonlog.GetLogger("bcopt.pipeline")

// Options select what a run does.
type Options struct {
	KeepRules []string

	TailRecursion            bool
	GeneralizeFields         bool
	GeneralizeMethods        bool
	DisambiguateInitializers bool

	// Specialize lists constructor descriptor changes to apply before
	// disambiguation.
	Specialize []config.Specialization

	// Parallelism bounds the number of classes processed at once.
	Parallelism int
}

// OptionsFromConfig converts a loaded configuration.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		KeepRules:                c.Keep.Rules,
		TailRecursion:            c.Optimize.TailRecursion,
		GeneralizeFields:         c.Optimize.GeneralizeFields,
		GeneralizeMethods:        c.Optimize.GeneralizeMethods,
		DisambiguateInitializers: c.Optimize.DisambiguateInitializers,
		Specialize:               c.Specialize,
		Parallelism:              c.Run.Parallelism,
	}
}

// Pipeline holds the state of one run.
type Pipeline struct {
	Pool   *classfile.ClassPool
	Store  *info.Store
	Report *report.Report

	opts Options
}

// New creates a pipeline over pool.
func New(pool *classfile.ClassPool, opts Options) *Pipeline {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Pipeline{
		Pool:   pool,
		Store:  info.NewStore(),
		Report: report.New(),
		opts:   opts,
	}
}

// Run optimizes the pool in place and returns the finished report. It stops
// at the first failing class; the pool may then be partly rewritten.
func (p *Pipeline) Run(ctx context.Context) (*report.Report, error) {
	marker, err := info.NewKeepMarker(p.Store, p.opts.KeepRules...)
	if err != nil {
		return nil, err
	}
	marker.Mark(p.Pool)

	if p.opts.DisambiguateInitializers {
		if err := p.initializers(ctx); err != nil {
			return nil, err
		}
	}
	if p.opts.TailRecursion || p.opts.GeneralizeFields || p.opts.GeneralizeMethods {
		if err := p.eachClass(ctx, p.optimizeClass); err != nil {
			return nil, err
		}
	}

	p.Report.Finish(p.Pool.Size(), p.Store.Snapshot(p.Pool))
	return p.Report, nil
}

// eachClass runs fn on every editable class, in parallel up to the
// configured limit.
func (p *Pipeline) eachClass(ctx context.Context, fn func(*classfile.Class) error) error {
	var classes []*classfile.Class
	p.Pool.ClassesAccept(&info.EditableClassFilter{
		Store:   p.Store,
		Visitor: classfile.ClassVisitorFunc(func(c *classfile.Class) { classes = append(classes, c) }),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallelism)
	for _, c := range classes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(c)
		})
	}
	return g.Wait()
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func (p *Pipeline) initializers(ctx context.Context) error {
	d := fixup.NewInitializerDisambiguator()

	for _, s := range p.opts.Specialize {
		if err := p.specialize(d, s); err != nil {
			return err
		}
	}

	// Classes kept as a whole keep their constructors.
	err := p.eachClass(ctx, func(c *classfile.Class) error {
		if p.Store.IsKept(c) {
			return nil
		}
		n, err := d.Disambiguate(c)
		if n > 0 {
			p.Report.Add(report.Record{Pass: report.PassDuplicateInitializer, Class: c.Name, Offset: -1, Detail: fmt.Sprintf("%d constructors", n)})
		}
		return err
	})
	if err != nil {
		return err
	}

	renames := d.Renames()
	if len(renames) == 0 {
		return nil
	}
	return p.eachClass(ctx, func(c *classfile.Class) error {
		f := fixup.NewInitializerInvocationFixer(p.Store, renames...)
		c.MethodsAccept(&info.EditableMemberFilter{Store: p.Store, Visitor: f})
		if n := f.Count(); n > 0 {
			p.Report.Add(report.Record{Pass: report.PassInitializerCall, Class: c.Name, Offset: -1, Detail: fmt.Sprintf("%d calls", n)})
		}
		return f.Err()
	})
}

func (p *Pipeline) specialize(d *fixup.InitializerDisambiguator, s config.Specialization) error {
	c := p.Pool.Class(s.Class)
	if c == nil {
		log.Warningf("specialize: class %s not found", s.Class)
		return nil
	}
	m := c.FindMethod("<init>", s.Descriptor)
	if m == nil {
		log.Warningf("specialize: %s.<init>%s not found", s.Class, s.Descriptor)
		return nil
	}
	if !p.Store.IsEditable(m) || p.Store.IsKept(m) {
		log.Warningf("specialize: %s is kept or not editable", m)
		return nil
	}
	if err := sameArguments(s.Descriptor, s.To); err != nil {
		return fmt.Errorf("specialize %s: %w", m, err)
	}
	r, err := d.SetDescriptor(c, m, s.To)
	if err != nil {
		return err
	}
	if r.NewDescriptor != r.OldDescriptor {
		p.Report.Add(report.Record{
			Pass:   report.PassInitializerRename,
			Class:  c.Name,
			Method: "<init>" + r.OldDescriptor,
			Offset: -1,
			Detail: r.NewDescriptor,
		})
	}
	return nil
}

// sameArguments checks that to only narrows reference parameters of from,
// so existing calls still pass matching arguments.
func sameArguments(from, to string) error {
	fp, _, err := descriptor.Parse(from)
	if err != nil {
		return err
	}
	tp, _, err := descriptor.Parse(to)
	if err != nil {
		return err
	}
	if len(fp) != len(tp) {
		return fmt.Errorf("%s and %s differ in parameter count", from, to)
	}
	for i := range fp {
		fr, tr := isReference(fp[i]), isReference(tp[i])
		if fr != tr || (!fr && fp[i] != tp[i]) {
			return fmt.Errorf("parameter %d: %s cannot become %s", i, fp[i], tp[i])
		}
	}
	return nil
}

func isReference(t string) bool {
	return t[0] == 'L' || t[0] == '['
}

// ---------------------------------------------------------------------------
// Code passes
// ---------------------------------------------------------------------------

func (p *Pipeline) optimizeClass(c *classfile.Class) error {
	var passes classfile.MultiMemberVisitor
	var errs []func() error

	if p.opts.TailRecursion {
		s := optimize.NewTailRecursionSimplifier(p.Store, p.Report.Observer(report.PassTailRecursion))
		passes = append(passes, s)
		errs = append(errs, s.Err)
	}
	if p.opts.GeneralizeFields || p.opts.GeneralizeMethods {
		g := optimize.NewMemberReferenceGeneralizer(p.Pool, p.opts.GeneralizeFields, p.opts.GeneralizeMethods)
		g.Store = p.Store
		g.FieldObserver = p.Report.Observer(report.PassGeneralizeField)
		g.MethodObserver = p.Report.Observer(report.PassGeneralizeMethod)
		passes = append(passes, g)
		errs = append(errs, g.Err)
	}

	// Kept methods stay as written.
	c.MethodsAccept(&info.EditableMemberFilter{Store: p.Store, Visitor: &info.KeptMemberFilter{Store: p.Store, Rejected: passes}})

	var all []error
	for _, e := range errs {
		all = append(all, e())
	}
	return errors.Join(all...)
}
