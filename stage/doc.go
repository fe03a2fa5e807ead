// Package stage defines the contract between the workflow engine and the
// caller-supplied processing stages: the work item identity, the handler
// interface, the execution context, and the outcome vocabulary a handler
// reports back with.
package stage
