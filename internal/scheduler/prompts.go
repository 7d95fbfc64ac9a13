package scheduler

import "fmt"

// Agent prompts. Their contents are contractual only in the sentinels and
// queue moves they instruct: the orchestrator observes exit codes and files,
// never the conversation.

func plannerPrompt(slug, taskDir string, version int) string {
	return fmt.Sprintf(`You are planning task %[1]s. Read %[2]s/ticket.md`+
		` and any existing plan and feedback files in %[2]s/.`+"\n\n"+
		`Write a complete implementation plan to %[2]s/plan-v%[3]d.md, addressing all`+
		` feedback from earlier rounds. Commit your changes when done.`,
		slug, taskDir, version)
}

func reviewerPrompt(slug, taskDir string, version int) string {
	return fmt.Sprintf(`You are reviewing the plan for task %[1]s. Read %[2]s/ticket.md`+
		` and %[2]s/plan-v%[3]d.md.`+"\n\n"+
		`Write critical, actionable feedback to %[2]s/feedback-%[3]d.md. Commit your`+
		` changes when done.`,
		slug, taskDir, version)
}

func executorPrompt(slug, taskDir string) string {
	return fmt.Sprintf(`You are executing task %[1]s. Follow %[2]s/plan.md exactly.`+"\n\n"+
		`Rules:`+"\n"+
		`- Commit your own changes as you work.`+"\n"+
		`- If a file named %[3]s appears at the repository root, commit what you`+
		` have and stop immediately.`+"\n"+
		`- When the task is complete, move the task directory from the in-progress`+
		` queue to the outbound queue (git mv) and commit.`,
		slug, taskDir, MergeRequestedFile)
}

func mergerPrompt(slug, mainline string) string {
	return fmt.Sprintf(`You are integrating task %[1]s.`+"\n\n"+
		`Steps:`+"\n"+
		`- Fetch and rebase this branch onto the latest %[2]s.`+"\n"+
		`- Resolve any conflicts; if they are irrecoverable, create a file named`+
		` %[3]s at the repository root and exit.`+"\n"+
		`- On success, move the task directory from the outbound queue to the done`+
		` queue (git mv) and commit.`,
		slug, mainline, NeedsManualRebaseFile)
}
