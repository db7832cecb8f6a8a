// Package agent contains the autonomous agent core: the AgentWork contract,
// the built-in work units that plan, analyze and execute tasks, and the
// AutonomousAgent orchestrator that drives them one step at a time with
// cooperative stop and pause between steps.
package agent
