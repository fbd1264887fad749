// Package cvemart holds the domain types shared by the cvemart components.
//
// The types in this package describe the two sides of the pipeline: raw
// vulnerability records as captured from external feeds, and the normalized,
// dimensionally-modeled form produced by the normalization engine and
// persisted by the materializer.
//
// Raw records are immutable once captured. All derived state is owned by the
// datastore implementations and is recomputable from the raw input.
package cvemart
