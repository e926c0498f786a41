// Package dnc contains the Do-Not-Contact domain model: the policy
// configuration, the contact registry entries, the override audit log and
// the transient decision value returned by the engine.
package dnc
