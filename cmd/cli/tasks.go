package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/openfathom/scanward/internal/db"
	"github.com/openfathom/scanward/internal/otp"
)

// tasksCmd represents the tasks command.
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage scan tasks",
	Long: `View and manage scan tasks. Tasks track the target and lifecycle
of a scan; status change requests (stop, pause, resume, delete) are
relayed to the scanner the next time it reports in.`,
	Example: `  scanward tasks
  scanward tasks show 6ba7b810-9dad-11d1-80b4-00c04fd430c8
  scanward tasks create "Weekly DMZ sweep" 192.0.2.0/24
  scanward tasks stop 6ba7b810-9dad-11d1-80b4-00c04fd430c8`,
	Run: runTasksList,
}

// tasksShowCmd represents the tasks show command.
var tasksShowCmd = &cobra.Command{
	Use:   "show [TASK-ID]",
	Short: "Show details for one task",
	Args:  cobra.ExactArgs(1),
	Run:   runTasksShow,
}

// tasksCreateCmd represents the tasks create command.
var tasksCreateCmd = &cobra.Command{
	Use:   "create [NAME] [TARGET]",
	Short: "Create a new scan task",
	Long: `Create a scan task for the given target. The task starts in the
"new" status; a connected scanner picks it up once it is requested.`,
	Example: `  scanward tasks create "Weekly DMZ sweep" 192.0.2.0/24`,
	Args:    cobra.ExactArgs(2),
	Run:     runTasksCreate,
}

// tasksStopCmd represents the tasks stop command.
var tasksStopCmd = &cobra.Command{
	Use:   "stop [TASK-ID]",
	Short: "Request that a running task be stopped",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		requestTaskChange(args[0], otp.StatusStopRequested, "stop")
	},
}

// tasksPauseCmd represents the tasks pause command.
var tasksPauseCmd = &cobra.Command{
	Use:   "pause [TASK-ID]",
	Short: "Request that a running task be paused",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		requestTaskChange(args[0], otp.StatusPauseRequested, "pause")
	},
}

// tasksResumeCmd represents the tasks resume command.
var tasksResumeCmd = &cobra.Command{
	Use:   "resume [TASK-ID]",
	Short: "Request that a paused task be resumed",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		requestTaskChange(args[0], otp.StatusResumeRequested, "resume")
	},
}

// tasksDeleteCmd represents the tasks delete command.
var tasksDeleteCmd = &cobra.Command{
	Use:   "delete [TASK-ID]",
	Short: "Request deletion of a task",
	Long: `Request deletion of a task. A running scan is stopped first; the
task and its reports are removed once the scanner confirms the end of
the scan.`,
	Args: cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		requestTaskChange(args[0], otp.StatusDeleteRequested, "delete")
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksCreateCmd)
	tasksCmd.AddCommand(tasksStopCmd)
	tasksCmd.AddCommand(tasksPauseCmd)
	tasksCmd.AddCommand(tasksResumeCmd)
	tasksCmd.AddCommand(tasksDeleteCmd)
}

func runTasksList(_ *cobra.Command, _ []string) {
	withStoreOrExit(func(store *db.Store) error {
		tasks, err := store.ListTasks(context.Background())
		if err != nil {
			return err
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}

		displayTasksTable(tasks)
		return nil
	})
}

func runTasksShow(_ *cobra.Command, args []string) {
	taskID := parseTaskID(args[0])

	withStoreOrExit(func(store *db.Store) error {
		task, err := store.GetTask(context.Background(), taskID)
		if err != nil {
			return err
		}

		fmt.Printf("ID:         %s\n", task.ID)
		fmt.Printf("Name:       %s\n", task.Name)
		fmt.Printf("Target:     %s\n", task.Target)
		fmt.Printf("Status:     %s\n", task.RunStatus)
		if task.RequestedStatus != nil {
			fmt.Printf("Requested:  %s\n", *task.RequestedStatus)
		}
		if task.LastReportID != nil {
			fmt.Printf("Last report: %s\n", *task.LastReportID)
		}
		fmt.Printf("Created:    %s\n", task.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated:    %s\n", task.UpdatedAt.Format("2006-01-02 15:04:05"))
		return nil
	})
}

func runTasksCreate(_ *cobra.Command, args []string) {
	name, target := args[0], args[1]

	withStoreOrExit(func(store *db.Store) error {
		task, err := store.CreateTask(context.Background(), name, target)
		if err != nil {
			return err
		}

		fmt.Printf("Created task %s (%s)\n", task.ID, task.Name)
		return nil
	})
}

// requestTaskChange records a status change request for a task. The
// change takes effect when the connected scanner next reports in.
func requestTaskChange(id string, status otp.TaskStatus, action string) {
	taskID := parseTaskID(id)

	withStoreOrExit(func(store *db.Store) error {
		if _, err := store.GetTask(context.Background(), taskID); err != nil {
			return err
		}
		if err := store.RequestStatusChange(context.Background(), taskID, status); err != nil {
			return err
		}

		fmt.Printf("Requested %s of task %s\n", action, taskID)
		fmt.Println("The change is relayed to the scanner on its next report.")
		return nil
	})
}

func parseTaskID(s string) uuid.UUID {
	taskID, err := uuid.Parse(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid task ID '%s': %v\n", s, err)
		os.Exit(1)
	}
	return taskID
}

// displayTasksTable displays tasks in a table format.
func displayTasksTable(tasks []*db.Task) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Target", "Status", "Requested", "Updated")

	for _, task := range tasks {
		requested := "-"
		if task.RequestedStatus != nil {
			requested = *task.RequestedStatus
		}

		_ = table.Append([]string{
			task.ID.String(),
			task.Name,
			task.Target,
			task.RunStatus,
			requested,
			task.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}

	_ = table.Render()
	fmt.Printf("\nTotal: %d tasks\n", len(tasks))
}
