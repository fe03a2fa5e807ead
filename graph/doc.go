// Package graph models the stage dependency graph: a set of named stages
// plus directed edges, validated acyclic at build time and frozen with a
// deterministic topological order.
package graph
