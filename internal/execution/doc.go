// Package execution runs a stage plan: the Scheduler computes the VU target over
// time, the VUPool keeps that many workers iterating the workload, and
// RampingVUsMode ties the two together and joins every worker before returning.
package execution
