package registry

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

// Validate performs a strict parity check between every block's declared
// pin schema and its Go handler. It is called once at startup; a mismatch
// is a programmer error, not a runtime condition.
func (r *Registry) Validate() error {
	var errs []string
	for blockType, b := range r.blocks {
		if err := validateBlock(b); err != nil {
			errs = append(errs, fmt.Sprintf("block '%s': %v", blockType, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func validateBlock(b *RegisteredBlock) error {
	if b.Fn == nil {
		return fmt.Errorf("no handler function registered")
	}
	fn := reflect.TypeOf(b.Fn)
	if fn.Kind() != reflect.Func {
		return fmt.Errorf("handler is %s, want func", fn.Kind())
	}
	if fn.NumIn() != 2 || fn.NumOut() != 2 {
		return fmt.Errorf("handler must have shape func(context.Context, *Input) (*Output, error)")
	}
	if !fn.In(0).Implements(ctxType) {
		return fmt.Errorf("handler's first parameter must be context.Context")
	}
	if !fn.Out(1).Implements(errType) {
		return fmt.Errorf("handler's second return must be error")
	}

	if b.NewInput == nil {
		if len(b.Def.Inputs) > 0 {
			return fmt.Errorf("definition declares inputs, but no NewInput constructor is registered")
		}
	} else {
		inType := reflect.TypeOf(b.NewInput())
		if inType != fn.In(1) {
			return fmt.Errorf("NewInput returns %s but handler takes %s", inType, fn.In(1))
		}
		if err := checkFieldParity("input", taggedFields(inType), nameSet(b.Def.Inputs)); err != nil {
			return err
		}
	}

	outType := fn.Out(0)
	if err := checkFieldParity("output", taggedFields(outType), outNameSet(b.Def.Outputs)); err != nil {
		return err
	}
	return nil
}

// taggedFields collects the mapstructure tag names of a struct type's
// exported fields, following one level of pointer indirection.
func taggedFields(t reflect.Type) map[string]struct{} {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	fields := make(map[string]struct{})
	if t.Kind() != reflect.Struct {
		return fields
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag != "" && tag != "-" {
			fields[tag] = struct{}{}
		}
	}
	return fields
}

func checkFieldParity(kind string, goFields, declared map[string]struct{}) error {
	for name := range goFields {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("Go struct binds %s pin %q which is not declared", kind, name)
		}
	}
	for name := range declared {
		if _, ok := goFields[name]; !ok {
			return fmt.Errorf("declared %s pin %q has no bound Go field", kind, name)
		}
	}
	return nil
}

func nameSet(m map[string]*InputDefinition) map[string]struct{} {
	s := make(map[string]struct{}, len(m))
	for name := range m {
		s[name] = struct{}{}
	}
	return s
}

func outNameSet(m map[string]*OutputDefinition) map[string]struct{} {
	s := make(map[string]struct{}, len(m))
	for name := range m {
		s[name] = struct{}{}
	}
	return s
}
