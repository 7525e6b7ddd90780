// Package dag is the execution layer of dnnflow. It builds directed acyclic
// graphs of tasks, lets a graph be reused as a template by composing it into
// other graphs as a single module task, and executes the result on a fixed
// pool of workers that respects every precedence edge.
//
// A Graph is a structure only: tasks, their bodies and their edges. All
// per-execution bookkeeping (unresolved predecessor counters, task states,
// errors) lives in the executor's run frames, so one Graph can be executed
// many times and composed into many parents without being copied.
//
// Composition works by reference. Composing a template into a parent adds one
// module task to the parent; edges to and from that task behave as if they
// attached to the template's entry and exit tasks. When the executor reaches a
// module task it creates a fresh frame for the template and schedules the
// template's tasks on the same worker pool. The module task completes once
// every task of that frame has completed, so a module never parks a worker.
package dag
