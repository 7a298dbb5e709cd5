// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stability implements the stability oracle: given two values of
// a composition parameter, it decides whether they should be treated as
// equal for skip purposes, according to the declared stability class of
// the parameter's type.
package stability

import (
	"reflect"

	"github.com/google/go-cmp/cmp"
)

// Class is the stability class of a parameter type, which determines
// how the oracle compares two values of it.
type Class int32

const (
	// Opaque values are anything the oracle cannot classify, such as a
	// foreign object with unexported state. They are conservatively
	// treated as always changed, forcing re-execution. This is a safe
	// default, never a correctness bug, only a performance cost.
	Opaque Class = iota

	// Immutable values are assumed never to mutate after construction
	// and compare by deep value equality. Declaring a mutable type
	// Immutable is a caller error that produces stale output; the
	// runtime does not detect it.
	Immutable

	// Observable values are state cells whose mutation is tracked by
	// the recomposer, so they compare by identity of the cell, not by
	// its contents.
	Observable
)

func (c Class) String() string {
	switch c {
	case Immutable:
		return "Immutable"
	case Observable:
		return "Observable"
	}
	return "Opaque"
}

// Observer is implemented by observable state cells; any value
// implementing it classifies as [Observable].
type Observer interface {
	// ObserverIdentity returns a comparable identity for the cell,
	// typically a pointer to it.
	ObserverIdentity() any
}

// Oracle classifies parameter types and compares values per class.
// Registered types take precedence over structural classification.
// The zero Oracle is usable; Register may be called from any goroutine
// only before composition starts.
type Oracle struct {
	classes map[reflect.Type]Class
}

// NewOracle returns a new [Oracle] with no registered types.
func NewOracle() *Oracle {
	return &Oracle{}
}

// Register declares the stability class of the given type, given as a
// value of that type. It overrides structural classification, which is
// how a caller vouches that, e.g., a pointer type is in fact immutable.
func (o *Oracle) Register(v any, c Class) {
	if o.classes == nil {
		o.classes = make(map[reflect.Type]Class)
	}
	o.classes[reflect.TypeOf(v)] = c
}

// Classify returns the stability class of the given value:
// registered types first, then [Observer] implementations as
// [Observable], then structurally immutable types as [Immutable],
// and everything else as [Opaque].
func (o *Oracle) Classify(v any) Class {
	if v == nil {
		return Immutable
	}
	t := reflect.TypeOf(v)
	if c, ok := o.classes[t]; ok {
		return c
	}
	if _, ok := v.(Observer); ok {
		return Observable
	}
	if o.immutableType(t, nil) {
		return Immutable
	}
	return Opaque
}

// immutableType reports whether the given type is structurally immutable:
// a comparable scalar or string, or a struct or array of such with only
// exported fields. Slices, maps, pointers, channels, and funcs are
// mutable or aliasing and classify as Opaque unless registered.
func (o *Oracle) immutableType(t reflect.Type, seen []reflect.Type) bool {
	if c, ok := o.classes[t]; ok {
		return c == Immutable
	}
	for _, s := range seen {
		if s == t {
			return true // recursion through a type already being checked
		}
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	case reflect.Array:
		return o.immutableType(t.Elem(), append(seen, t))
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				return false
			}
			if !o.immutableType(f.Type, append(seen, t)) {
				return false
			}
		}
		return true
	}
	return false
}

// Equal reports whether two parameter values should be treated as equal
// under the given stability class. Opaque values are never equal.
func (o *Oracle) Equal(a, b any, c Class) bool {
	switch c {
	case Immutable:
		return cmp.Equal(a, b, cmp.Exporter(func(reflect.Type) bool { return true }))
	case Observable:
		ai, bi := observerIdentity(a), observerIdentity(b)
		return ai == bi
	}
	return false
}

func observerIdentity(v any) any {
	if ob, ok := v.(Observer); ok {
		return ob.ObserverIdentity()
	}
	return v
}
