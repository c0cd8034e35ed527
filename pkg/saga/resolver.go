// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package saga

import "sync"

// StepFactory produces a fresh step instance for one invocation. Factories
// let steps carry per-call dependencies (clients, transactions) without the
// orchestrator holding long-lived step state.
type StepFactory[T any] func() Step[T]

// FactoryResolver is a registry-backed StepResolver. Step types are
// registered once at saga-type registration time; Resolve produces a new
// instance per call.
type FactoryResolver[T any] struct {
	mu        sync.RWMutex
	factories map[string]StepFactory[T]
}

// NewFactoryResolver creates an empty step resolver registry.
func NewFactoryResolver[T any]() *FactoryResolver[T] {
	return &FactoryResolver[T]{
		factories: make(map[string]StepFactory[T]),
	}
}

// Register binds a step-type identity to a factory. Registering the same
// type twice replaces the previous factory.
func (r *FactoryResolver[T]) Register(stepType string, factory StepFactory[T]) *FactoryResolver[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[stepType] = factory
	return r
}

// RegisterStep binds a step-type identity to a shared, stateless step value.
func (r *FactoryResolver[T]) RegisterStep(stepType string, step Step[T]) *FactoryResolver[T] {
	return r.Register(stepType, func() Step[T] { return step })
}

// Resolve produces a step instance for the given type, or a
// step-not-registered error.
func (r *FactoryResolver[T]) Resolve(stepType string) (Step[T], error) {
	r.mu.RLock()
	factory, ok := r.factories[stepType]
	r.mu.RUnlock()
	if !ok {
		return nil, NewStepNotRegisteredError(stepType)
	}
	return factory(), nil
}
