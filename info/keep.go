package info

import (
	"fmt"

	"github.com/coregx/coregex"

	"github.com/chazu/bcopt/classfile"
)

// KeepRule matches element names against a regular expression. Classes are
// matched by internal name ("com/example/Main"), members by
// "class.member" and by "class.member+descriptor"
// ("com/example/Main.main" and "com/example/Main.main([Ljava/lang/String;)V").
// The expression must match the whole name.
type KeepRule struct {
	Pattern string
	re      *coregex.Regexp
}

// CompileKeepRule compiles a keep rule.
func CompileKeepRule(pattern string) (*KeepRule, error) {
	re, err := coregex.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("keep rule %q: %w", pattern, err)
	}
	return &KeepRule{Pattern: pattern, re: re}, nil
}

// MatchClass reports whether the rule keeps class c.
func (r *KeepRule) MatchClass(c *classfile.Class) bool {
	return r.re.MatchString(c.Name)
}

// MatchMember reports whether the rule keeps member m of c.
func (r *KeepRule) MatchMember(c *classfile.Class, m classfile.Member) bool {
	name := c.Name + "." + m.Name()
	return r.re.MatchString(name) || r.re.MatchString(name+m.Descriptor())
}

// KeepMarker creates the metadata of every element it visits: program
// elements get the Program kinds, library elements the generic ones. Every
// run stores fresh instances. An element is kept when a rule matches it or
// its class; class initializers are always kept. Methods without code get
// no code info.
//
// Members are marked against the class visited last, so a marker driven by
// hand must visit a class before its members.
type KeepMarker struct {
	Store *Store
	Rules []*KeepRule

	classKept bool
	marked    int
	kept      int
}

// NewKeepMarker compiles the given keep rules into a marker.
func NewKeepMarker(store *Store, patterns ...string) (*KeepMarker, error) {
	k := &KeepMarker{Store: store}
	for _, p := range patterns {
		r, err := CompileKeepRule(p)
		if err != nil {
			return nil, err
		}
		k.Rules = append(k.Rules, r)
	}
	return k, nil
}

// Mark walks every class of p and its members.
func (k *KeepMarker) Mark(p *classfile.ClassPool) {
	k.marked, k.kept = 0, 0
	// Walk fails only while decoding instructions, which the marker skips.
	_ = classfile.Walk(p, classfile.Walker{Class: k, Member: k})
	log.Infof("marked %d elements, %d kept", k.marked, k.kept)
}

func (k *KeepMarker) VisitClass(c *classfile.Class) {
	k.classKept = false
	for _, r := range k.Rules {
		if r.MatchClass(c) {
			k.classKept = true
			break
		}
	}
	ci := ClassInfo{Keep: k.classKept}
	if c.Library {
		k.set(c, &ci)
	} else {
		k.set(c, &ProgramClassInfo{ci})
	}
}

func (k *KeepMarker) VisitField(c *classfile.Class, f *classfile.Field) {
	fi := FieldInfo{Keep: k.memberKept(c, f)}
	if c.Library {
		k.set(f, &fi)
	} else {
		k.set(f, &ProgramFieldInfo{fi})
	}
}

func (k *KeepMarker) VisitMethod(c *classfile.Class, m *classfile.Method) {
	kept := m.IsClassInitializer() || k.memberKept(c, m)
	mi := MethodInfo{Keep: kept}
	if c.Library {
		k.set(m, &mi)
	} else {
		k.set(m, &ProgramMethodInfo{mi})
	}

	code := m.Code()
	if code == nil {
		return
	}
	codeInfo := CodeInfo{Keep: kept}
	if c.Library {
		k.set(code, &codeInfo)
	} else {
		k.set(code, &ProgramCodeInfo{codeInfo})
	}
}

func (k *KeepMarker) set(e classfile.Element, i Info) {
	k.Store.Set(e, i)
	k.marked++
	if i.Kept() {
		k.kept++
	}
}

func (k *KeepMarker) memberKept(c *classfile.Class, m classfile.Member) bool {
	if k.classKept {
		return true
	}
	for _, r := range k.Rules {
		if r.MatchMember(c, m) {
			return true
		}
	}
	return false
}
