package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/app"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/repo"
)

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskUpdateCmd())
	t.AddCommand(taskDeleteCmd())
	t.AddCommand(taskAttachCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartDate, err = parseDate(start); err != nil {
				return err
			}
			if opts.EndDate, err = parseDate(end); err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				t, err := a.Engine.CreateTask(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.TaskStatus, "status", "", "task status (Open, In Progress, On Hold, Closed)")
	cmd.Flags().StringVar(&opts.CompletionStatus, "completion", "", "completion status (Pending, Completed, Cancelled)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.AssignedTo, "assignee", "", "assignee user id")
	cmd.Flags().StringVar(&start, "start", "", "start date")
	cmd.Flags().StringVar(&end, "end", "", "end date")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var q engine.TaskQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				page, err := a.Engine.ListTasks(ctx, actor, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				rows := make([]table.Row, 0, len(page.Items))
				for _, t := range page.Items {
					rows = append(rows, table.Row{t.ID, t.Title, t.TaskStatus, t.CompletionStatus, t.ProjectID, t.AssignedTo, formatDate(t.EndDate)})
				}
				printTable(table.Row{"ID", "Title", "Status", "Completion", "Project", "Assignee", "Due"}, rows,
					pageCaption(len(page.Items), page.TotalItems, page.CurrentPage, page.TotalPages))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&q.Search, "search", "", "title/description search")
	cmd.Flags().StringVar(&q.TaskStatus, "status", "", "task status filter")
	cmd.Flags().StringVar(&q.CompletionStatus, "completion", "", "completion status filter")
	cmd.Flags().StringVar(&q.ProjectID, "project", "", "project filter")
	cmd.Flags().BoolVar(&q.IncludeInactive, "include-inactive", false, "include soft-deactivated tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				t, err := a.Engine.GetTask(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, completion, notes, project, assignee, start, end string
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task; pass an empty value to clear project, assignee or dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			var opts engine.TaskUpdateOptions
			if f.Changed("title") {
				opts.Title = &title
			}
			if f.Changed("description") {
				opts.Description = &description
			}
			if f.Changed("status") {
				opts.TaskStatus = &status
			}
			if f.Changed("completion") {
				opts.CompletionStatus = &completion
			}
			if f.Changed("notes") {
				opts.Notes = &notes
			}
			if f.Changed("project") {
				opts.ProjectID = &project
			}
			if f.Changed("assignee") {
				opts.AssignedTo = &assignee
			}
			if f.Changed("active") {
				opts.IsActive = &active
			}
			if f.Changed("start") {
				d, err := parseDate(start)
				if err != nil {
					return err
				}
				opts.StartDate, opts.ClearStartDate = d, d == nil
			}
			if f.Changed("end") {
				d, err := parseDate(end)
				if err != nil {
					return err
				}
				opts.EndDate, opts.ClearEndDate = d, d == nil
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				t, err := a.Engine.UpdateTask(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "task status")
	cmd.Flags().StringVar(&completion, "completion", "", "completion status")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	cmd.Flags().StringVar(&start, "start", "", "start date")
	cmd.Flags().StringVar(&end, "end", "", "end date")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				return a.Engine.DeleteTask(ctx, actor, args[0])
			})
		},
	}
}

func taskAttachCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "attach <id> <file>",
		Short: "Upload a file and attach it to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			name := filepath.Base(args[1])
			contentType := mime.TypeByExtension(filepath.Ext(name))
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				t, obj, err := a.Engine.AttachMedia(ctx, actor, args[0], kind, name, contentType, data)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"task": t, "object": obj})
				}
				fmt.Printf("stored %s (%d bytes) at %s\n", name, obj.Size, obj.URL)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", domain.MediaAttachments, "images, videos or attachments")
	return cmd
}

func projectCmd() *cobra.Command {
	p := &cobra.Command{Use: "project", Short: "Manage projects"}
	p.AddCommand(projectCreateCmd())
	p.AddCommand(projectListCmd())
	p.AddCommand(projectShowCmd())
	p.AddCommand(projectUpdateCmd())
	p.AddCommand(projectDeleteCmd())
	return p
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var deadline, team string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Deadline, err = parseDate(deadline); err != nil {
				return err
			}
			opts.Team = splitList(team)
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				p, err := a.Engine.CreateProject(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "active or inactive")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline date")
	cmd.Flags().StringVar(&team, "team", "", "comma separated user ids")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var q engine.ProjectQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				page, err := a.Engine.ListProjects(ctx, actor, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				rows := make([]table.Row, 0, len(page.Items))
				for _, p := range page.Items {
					rows = append(rows, table.Row{p.ID, p.Name, p.Status, formatDate(p.Deadline), len(p.Team), len(p.Tasks)})
				}
				printTable(table.Row{"ID", "Name", "Status", "Deadline", "Team", "Tasks"}, rows,
					pageCaption(len(page.Items), page.TotalItems, page.CurrentPage, page.TotalPages))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&q.Search, "search", "", "name/description search")
	cmd.Flags().StringVar(&q.Status, "status", "", "status filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				p, err := a.Engine.GetProject(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, description, status, deadline, team string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project; --team replaces the whole team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			var opts engine.ProjectUpdateOptions
			if f.Changed("name") {
				opts.Name = &name
			}
			if f.Changed("description") {
				opts.Description = &description
			}
			if f.Changed("status") {
				opts.Status = &status
			}
			if f.Changed("deadline") {
				d, err := parseDate(deadline)
				if err != nil {
					return err
				}
				opts.Deadline, opts.ClearDeadline = d, d == nil
			}
			if f.Changed("team") {
				members := splitList(team)
				opts.Team = &members
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				p, err := a.Engine.UpdateProject(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "active or inactive")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline date (empty clears)")
	cmd.Flags().StringVar(&team, "team", "", "comma separated user ids")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project and detach its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				return a.Engine.DeleteProject(ctx, actor, args[0])
			})
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	u.AddCommand(userUpdateCmd())
	u.AddCommand(userDeleteCmd())
	u.AddCommand(whoamiCmd())
	return u
}

// roleID accepts a role id or name.
func roleID(ctx context.Context, store repo.Store, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if r, err := store.GetRole(ctx, ref); err == nil {
		return r.ID, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	r, err := store.GetRoleByName(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("role %s: %w", ref, err)
	}
	return r.ID, nil
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	var role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				id, err := roleID(ctx, a.Store, role)
				if err != nil {
					return err
				}
				opts.RoleID = id
				u, err := a.Engine.CreateUser(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "e-mail")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Active or Inactive")
	cmd.Flags().StringVar(&role, "role", "", "role id or name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	var q engine.UserQuery
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				id, err := roleID(ctx, a.Store, role)
				if err != nil {
					return err
				}
				q.RoleID = id
				page, err := a.Engine.ListUsers(ctx, actor, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				rows := make([]table.Row, 0, len(page.Items))
				for _, u := range page.Items {
					rows = append(rows, table.Row{u.ID, u.Name, u.Email, u.Status, u.RoleID})
				}
				printTable(table.Row{"ID", "Name", "Email", "Status", "Role"}, rows,
					pageCaption(len(page.Items), page.TotalItems, page.CurrentPage, page.TotalPages))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&q.Search, "search", "", "name/e-mail search")
	cmd.Flags().StringVar(&role, "role", "", "role id or name")
	return cmd
}

func userUpdateCmd() *cobra.Command {
	var name, status, role, password string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a user's name, status, role or password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			var opts engine.UserUpdateOptions
			if f.Changed("name") {
				opts.Name = &name
			}
			if f.Changed("status") {
				opts.Status = &status
			}
			if f.Changed("password") {
				opts.Password = &password
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				if f.Changed("role") {
					id, err := roleID(ctx, a.Store, role)
					if err != nil {
						return err
					}
					opts.RoleID = &id
				}
				u, err := a.Engine.UpdateUser(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&status, "status", "", "Active or Inactive")
	cmd.Flags().StringVar(&role, "role", "", "role id or name")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user and resolved permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				s, err := a.Engine.Me(actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":          actor.ID,
					"email":       actor.Email,
					"role":        actor.RoleName(),
					"superAdmin":  s.SuperAdmin,
					"permissions": s.Permissions.Names(),
				})
			})
		},
	}
}

func roleCmd() *cobra.Command {
	r := &cobra.Command{Use: "role", Short: "Manage roles"}
	r.AddCommand(roleListCmd())
	r.AddCommand(roleCreateCmd())
	r.AddCommand(roleUpdateCmd())
	r.AddCommand(roleDeleteCmd())
	r.AddCommand(permissionsCmd())
	return r
}

func roleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				roles, err := a.Engine.ListRoles(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roles)
				}
				rows := make([]table.Row, 0, len(roles))
				for _, r := range roles {
					rows = append(rows, table.Row{r.ID, r.Name, r.Status, strings.Join(r.Permissions, ", ")})
				}
				printTable(table.Row{"ID", "Name", "Status", "Permissions"}, rows, "")
				return nil
			})
		},
	}
}

func roleCreateCmd() *cobra.Command {
	var opts engine.RoleOptions
	var perms string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Permissions = splitList(perms)
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				r, err := a.Engine.CreateRole(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "role name")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Active or Inactive")
	cmd.Flags().StringVar(&perms, "permissions", "", "comma separated permission names")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func roleUpdateCmd() *cobra.Command {
	var name, status, perms string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a role; --permissions replaces the whole set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			var opts engine.RoleUpdateOptions
			if f.Changed("name") {
				opts.Name = &name
			}
			if f.Changed("status") {
				opts.Status = &status
			}
			if f.Changed("permissions") {
				list := splitList(perms)
				opts.Permissions = &list
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				r, err := a.Engine.UpdateRole(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "role name")
	cmd.Flags().StringVar(&status, "status", "", "Active or Inactive")
	cmd.Flags().StringVar(&perms, "permissions", "", "comma separated permission names")
	return cmd
}

func roleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a role that no user holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				return a.Engine.DeleteRole(ctx, actor, args[0])
			})
		},
	}
}

func userDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|email>",
		Short: "Delete a user; their tasks become unassigned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				id := args[0]
				if strings.Contains(id, "@") {
					u, err := a.Store.GetUserByEmail(ctx, id)
					if err != nil {
						return fmt.Errorf("user %s: %w", id, err)
					}
					id = u.ID
				}
				return a.Engine.DeleteUser(ctx, actor, id)
			})
		},
	}
}

func permissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "List the permission catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				perms, err := a.Engine.ListPermissions(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(perms)
				}
				rows := make([]table.Row, 0, len(perms))
				for _, p := range perms {
					rows = append(rows, table.Row{p.Name, p.Description})
				}
				printTable(table.Row{"Permission", "Description"}, rows, "")
				return nil
			})
		},
	}
	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a permission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				p, err := a.Engine.CreatePermission(ctx, actor, args[0], description)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	create.Flags().StringVar(&description, "description", "", "permission description")
	var rename string
	update := &cobra.Command{
		Use:   "update <name>",
		Short: "Rename or describe a permission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.PermissionUpdateOptions
			if cmd.Flags().Changed("name") {
				opts.Name = &rename
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				p, err := a.Engine.UpdatePermission(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	update.Flags().StringVar(&rename, "name", "", "new permission name")
	update.Flags().StringVar(&description, "description", "", "permission description")
	cmd.AddCommand(create, update, &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a permission no role holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				return a.Engine.DeletePermission(ctx, actor, args[0])
			})
		},
	})
	return cmd
}

func consistencyCmd() *cobra.Command {
	c := &cobra.Command{Use: "consistency", Short: "Inspect and repair project back-references"}
	c.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List tasks awaiting back-reference repair in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				pending, err := a.Engine.ConsistencyStatus(actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(pending)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild every project's task list from the tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				rep, err := a.Engine.Reconcile(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	})
	return c
}

func eventsCmd() *cobra.Command {
	e := &cobra.Command{Use: "events", Short: "Read the change log"}
	var after int64
	var limit int
	var follow bool
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print events after a cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				cursor := after
				for {
					items, err := a.Engine.ListEvents(ctx, actor, cursor, limit)
					if err != nil {
						return err
					}
					for _, ev := range items {
						if viper.GetBool("json") {
							if err := printJSON(ev); err != nil {
								return err
							}
						} else {
							fmt.Printf("%d\t%s\t%s\t%s/%s\t%s\n", ev.ID, ev.TS.Format(time.RFC3339), ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID)
						}
						cursor = ev.ID
					}
					if !follow {
						return nil
					}
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Second):
					}
				}
			})
		},
	}
	tail.Flags().Int64Var(&after, "after", 0, "only events with a greater id")
	tail.Flags().IntVar(&limit, "limit", 100, "maximum events per read")
	tail.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new events")
	e.AddCommand(tail)
	return e
}

func apiKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "api-key",
		Short: "Issue an API key for the acting user (for webhook consumers and scripts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				k, secret, err := a.Engine.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": k.ID, "userId": k.UserID, "name": k.Name, "key": secret})
				}
				fmt.Printf("api key %s (shown once): %s\n", k.ID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}
