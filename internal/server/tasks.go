package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"taskline/internal/blob"
	"taskline/internal/domain"
	"taskline/internal/engine"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusServiceUnavailable,
	http.StatusInternalServerError,
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, actor, taskCreateOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List visible tasks",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Page             int    `query:"page" default:"1"`
		Limit            int    `query:"limit"`
		Search           string `query:"search"`
		TaskStatus       string `query:"taskStatus"`
		CompletionStatus string `query:"completionStatus"`
		Project          string `query:"project"`
		IncludeInactive  bool   `query:"includeInactive"`
	}) (*struct {
		Body TaskPage `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := e.ListTasks(ctx, actor, engine.TaskQuery{
			Page:             input.Page,
			Limit:            input.Limit,
			Search:           input.Search,
			TaskStatus:       input.TaskStatus,
			CompletionStatus: input.CompletionStatus,
			ProjectID:        input.Project,
			IncludeInactive:  input.IncludeInactive,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskPage `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body
		opts := engine.TaskUpdateOptions{
			Title:            in.Title,
			Description:      in.Description,
			TaskStatus:       in.TaskStatus,
			CompletionStatus: in.CompletionStatus,
			StartDate:        in.StartDate,
			ClearStartDate:   explicitNull(ctx, "startDate"),
			EndDate:          in.EndDate,
			ClearEndDate:     explicitNull(ctx, "endDate"),
			Notes:            in.Notes,
			ProjectID:        in.Project,
			AssignedTo:       in.AssignedTo,
			IsActive:         in.IsActive,
		}
		empty := ""
		if explicitNull(ctx, "project") {
			opts.ProjectID = &empty
		}
		if explicitNull(ctx, "assignedTo") {
			opts.AssignedTo = &empty
		}
		t, err := e.UpdateTask(ctx, actor, input.ID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// registerMedia wires uploads under the API and downloads at the blob base URL.
func registerMedia(api huma.API, r chi.Router, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-task-media",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/media/{kind}",
		Summary:       "Upload an image, video or attachment for a task",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID          string `path:"id"`
		Kind        string `path:"kind" enum:"images,videos,attachments"`
		Filename    string `query:"filename"`
		ContentType string `header:"Content-Type"`
		RawBody     []byte `contentType:"application/octet-stream"`
	}) (*struct {
		Body MediaResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, obj, err := e.AttachMedia(ctx, actor, input.ID, input.Kind, input.Filename, input.ContentType, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MediaResponse `json:"body"`
		}{Body: MediaResponse{Task: t, Object: obj}}, nil
	})

	if e.Blobs == nil {
		return
	}
	base := "/media"
	if c := e.Config; c != nil && c.Blob.BaseURL != "" && c.Blob.BaseURL[0] == '/' {
		base = c.Blob.BaseURL
	}
	r.Get(base+"/{key}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")
		rc, err := e.Blobs.Open(req.Context(), key)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
				respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "media not found", nil))
				return
			}
			respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "upstream_unavailable", "media store unavailable", nil))
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", blob.ContentType(key))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		_, _ = io.Copy(w, rc)
	})
}
