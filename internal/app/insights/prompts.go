package insights

import (
	"fmt"
	"strings"
	"time"

	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/app/identity"
	"github.com/todo-1m/tms/internal/app/tasks"
)

func timestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "none"
	}
	return t.UTC().Format(time.RFC3339)
}

func summaryPrompt(user identity.User, s analytics.DailyStats) string {
	return fmt.Sprintf(`Write a concise one or two sentence summary of the user's productivity for the day below.
Mention how many tasks were created, completed and removed, comment briefly on workload balance,
and give one concrete suggestion for tomorrow. Output plain text only.

User:
- username: %s

Daily stats:
- date: %s
- created: %d
- completed: %d
- removed_total: %d
- removed_deleted: %d
- removed_canceled: %d
`, user.Username, s.Date, s.Created, s.Completed, s.RemovedTotal, s.RemovedDeleted, s.RemovedCanceled)
}

func riskPrompt(user identity.User, t tasks.Task) string {
	created := t.CreatedAt
	return fmt.Sprintf(`Estimate the probability that the task below becomes overdue.
Return ONLY a number between 0.0 and 1.0. No explanation.

User:
- username: %s

Task:
- id: %d
- title: %s
- description: %s
- priority: %s
- status: %s
- created_at: %s
- due_date: %s
`, user.Username, t.ID, t.Title, t.Description, t.Priority, t.Status, timestamp(&created), timestamp(t.DueDate))
}

func rerankPrompt(user identity.User, list []tasks.Task) string {
	var b strings.Builder
	b.WriteString(`Reorder the tasks below in the recommended order for tomorrow.
Consider priority, urgency from the due date, status, task age and hints in the title and description.
Output ONLY a comma separated list of task ids in the new order, for example: 3,5,1,2

User:
`)
	fmt.Fprintf(&b, "- username: %s\n\nTasks:\n", user.Username)
	for _, t := range list {
		created := t.CreatedAt
		fmt.Fprintf(&b, "ID=%d, title=%s, description=%s, priority=%s, status=%s, dueDate=%s, createdAt=%s\n",
			t.ID, t.Title, t.Description, t.Priority, t.Status, timestamp(t.DueDate), timestamp(&created))
	}
	b.WriteString("\nReturn only the id list.")
	return b.String()
}

func patternPrompt(user identity.User, statsJSON string) string {
	return fmt.Sprintf(`You will receive a JSON list of daily task statistics.
Identify two to five meaningful patterns in the user's work behavior, such as weekday trends or backlog tendencies.
Output bullet points followed by a one or two sentence overall recommendation. Do not output JSON.

User:
- username: %s

Daily stats JSON:
%s
`, user.Username, statsJSON)
}
