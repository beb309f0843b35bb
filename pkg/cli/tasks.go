package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/wurk2do/pkg/model"
	"github.com/harrisonrobin/wurk2do/pkg/store"
)

func parseDay(s string) (model.Weekday, error) {
	day, ok := model.ParseWeekday(s)
	if !ok {
		return "", fmt.Errorf("%w: %q", store.ErrUnknownDay, s)
	}
	return day, nil
}

func parseIndex(name, s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return i, nil
}

// mutate opens the store, applies fn and saves the result.
func (a *app) mutate(fn func(st *store.Store) error) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return st.Save()
}

func addCmd(a *app) *cobra.Command {
	var priority int
	var hours float64

	cmd := &cobra.Command{
		Use:   "add <day> <text...>",
		Short: "Add a task to a day",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			return a.mutate(func(st *store.Store) error {
				task, err := st.AddTask(day, text)
				if err != nil {
					return err
				}
				patch := store.TaskPatch{}
				if cmd.Flags().Changed("priority") {
					patch.Priority = &priority
				}
				if cmd.Flags().Changed("hours") {
					patch.EstimatedHours = &hours
				}
				if patch.Priority != nil || patch.EstimatedHours != nil {
					if err := st.UpdateTask(day, task.ID, patch); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", task.ID, day)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "priority from 0 to 3")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated hours")
	return cmd
}

func doneCmd(a *app) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done <day> <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(args[0])
			if err != nil {
				return err
			}
			completed := !undo
			return a.mutate(func(st *store.Store) error {
				return st.UpdateTask(day, args[1], store.TaskPatch{Completed: &completed})
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark the task not completed")
	return cmd
}

func editCmd(a *app) *cobra.Command {
	var (
		text      string
		priority  int
		hours     float64
		completed bool
	)
	cmd := &cobra.Command{
		Use:   "edit <day> <id>",
		Short: "Change fields of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(args[0])
			if err != nil {
				return err
			}
			patch := store.TaskPatch{}
			if cmd.Flags().Changed("text") {
				patch.Text = &text
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			if cmd.Flags().Changed("hours") {
				patch.EstimatedHours = &hours
			}
			if cmd.Flags().Changed("completed") {
				patch.Completed = &completed
			}
			return a.mutate(func(st *store.Store) error {
				return st.UpdateTask(day, args[1], patch)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "task text")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "priority from 0 to 3")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated hours")
	cmd.Flags().BoolVar(&completed, "completed", false, "completion state")
	return cmd
}

func rmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <day> <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(args[0])
			if err != nil {
				return err
			}
			return a.mutate(func(st *store.Store) error {
				return st.DeleteTask(day, args[1])
			})
		},
	}
}

func moveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <from> <to> <index>",
		Short: "Move a task to another day",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseDay(args[1])
			if err != nil {
				return err
			}
			to, err := parseDay(args[2])
			if err != nil {
				return err
			}
			idx, err := parseIndex("index", args[3])
			if err != nil {
				return err
			}
			return a.mutate(func(st *store.Store) error {
				return st.MoveTask(args[0], from, to, idx)
			})
		},
	}
}

func reorderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <day> <from> <to>",
		Short: "Reorder a task within a day",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(args[0])
			if err != nil {
				return err
			}
			from, err := parseIndex("from index", args[1])
			if err != nil {
				return err
			}
			to, err := parseIndex("to index", args[2])
			if err != nil {
				return err
			}
			return a.mutate(func(st *store.Store) error {
				return st.ReorderTask(day, from, to)
			})
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var showIDs bool
	cmd := &cobra.Command{
		Use:   "list [day]",
		Short: "Show the week's tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			days := model.Weekdays
			if len(args) == 1 {
				day, err := parseDay(args[0])
				if err != nil {
					return err
				}
				days = []model.Weekday{day}
			}
			renderWeek(cmd.OutOrStdout(), st.Snapshot(), days, showIDs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showIDs, "ids", true, "show task ids")
	return cmd
}
