package psm

import "github.com/zjrosen/paracycle/internal/orchestration/types"

// rule is one cell of the transition table: a legal (command, current
// phase) pair, its destination phase, and the precondition that must
// hold against the cycle's task state for the transition to be legal.
type rule struct {
	dest           types.Phase
	precondition   func(types.TaskState) bool
	hint           string
	repositoryLock bool // commit-* transitions hold an exclusive REPOSITORY lock
}

type cell struct {
	cmd   types.Command
	phase types.Phase
}

func always(types.TaskState) bool { return true }

// table is the literal transition table: every legal (command,
// current-phase) pair maps to its destination and precondition.
// start/status/abort are handled specially in psm.go since they apply
// uniformly across every source phase.
var table = map[cell]rule{
	{types.CmdDesign, types.PhaseDesign}: {dest: types.PhaseDesign, precondition: always},

	{types.CmdTest, types.PhaseDesign}:  {dest: types.PhaseTestRed, precondition: always},
	{types.CmdTest, types.PhaseTestRed}: {dest: types.PhaseTestRed, precondition: always},

	{types.CmdCode, types.PhaseTestRed}: {
		dest:         types.PhaseCodeGreen,
		precondition: func(ts types.TaskState) bool { return ts.HasFailingTests },
		hint:         "code requires the cycle to currently have failing tests",
	},
	{types.CmdCode, types.PhaseCodeGreen}: {dest: types.PhaseCodeGreen, precondition: always},

	{types.CmdRefactor, types.PhaseCodeGreen}: {
		dest:         types.PhaseRefactor,
		precondition: func(ts types.TaskState) bool { return ts.HasPassingTests },
		hint:         "refactor requires the cycle to currently have passing tests",
	},
	{types.CmdRefactor, types.PhaseRefactor}: {dest: types.PhaseRefactor, precondition: always},

	{types.CmdCommit, types.PhaseCodeGreen}: {
		dest:           types.PhaseCommit,
		precondition:   func(ts types.TaskState) bool { return ts.HasPassingTests },
		hint:           "commit requires the cycle to currently have passing tests",
		repositoryLock: true,
	},
	{types.CmdCommit, types.PhaseRefactor}: {
		dest:           types.PhaseCommit,
		precondition:   func(ts types.TaskState) bool { return ts.HasPassingTests },
		hint:           "commit requires the cycle to currently have passing tests",
		repositoryLock: true,
	},

	{types.CmdCommitTests, types.PhaseTestRed}: {
		dest:           types.PhaseCodeGreen,
		precondition:   func(ts types.TaskState) bool { return ts.HasFailingTests && ts.HasTestFiles },
		hint:           "commit-tests requires failing tests and test files present",
		repositoryLock: true,
	},

	{types.CmdCommitCode, types.PhaseCodeGreen}: {
		dest:           types.PhaseRefactor,
		precondition:   func(ts types.TaskState) bool { return ts.HasPassingTests && ts.HasCommittedTests },
		hint:           "commit-code requires passing tests and previously-committed tests",
		repositoryLock: true,
	},

	{types.CmdCommitRefactor, types.PhaseRefactor}: {
		dest:           types.PhaseCommit,
		precondition:   func(ts types.TaskState) bool { return ts.HasPassingTests && ts.HasCommittedTests },
		hint:           "commit-refactor requires passing tests and previously-committed tests",
		repositoryLock: true,
	},

	{types.CmdNext, types.PhaseDesign}:    {dest: types.PhaseTestRed, precondition: always},
	{types.CmdNext, types.PhaseTestRed}:   {dest: types.PhaseCodeGreen, precondition: always},
	{types.CmdNext, types.PhaseCodeGreen}: {dest: types.PhaseRefactor, precondition: always},
	{types.CmdNext, types.PhaseRefactor}:  {dest: types.PhaseCommit, precondition: always},
	{types.CmdNext, types.PhaseCommit}:    {dest: types.PhaseDesign, precondition: always},
}
