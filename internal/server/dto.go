package server

import (
	"apigen/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	Name                string  `json:"name"`
	SourceOpenAPIURL    *string `json:"source_openapi_url,omitempty"`
	GitRepoURL          *string `json:"git_repo_url,omitempty"`
	GitAuthToken        *string `json:"git_auth_token,omitempty"`
	SourceLanguage      *string `json:"source_language,omitempty"`
	CallbackType        *string `json:"callback_type,omitempty" enum:"push_to_repo,custom_api"`
	CustomCallbackURL   *string `json:"custom_callback_url,omitempty"`
	CustomCallbackToken *string `json:"custom_callback_token,omitempty"`
}

type UpdateProjectRequest struct {
	SourceOpenAPIURL    *string `json:"source_openapi_url,omitempty"`
	GitRepoURL          *string `json:"git_repo_url,omitempty"`
	GitAuthToken        *string `json:"git_auth_token,omitempty"`
	SourceLanguage      *string `json:"source_language,omitempty"`
	CallbackType        *string `json:"callback_type,omitempty" enum:"push_to_repo,custom_api"`
	CustomCallbackURL   *string `json:"custom_callback_url,omitempty"`
	CustomCallbackToken *string `json:"custom_callback_token,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	SourceOpenAPIURL  string `json:"source_openapi_url,omitempty"`
	GitRepoURL        string `json:"git_repo_url,omitempty"`
	SourceLanguage    string `json:"source_language,omitempty"`
	CallbackType      string `json:"callback_type" enum:"push_to_repo,custom_api"`
	CustomCallbackURL string `json:"custom_callback_url,omitempty"`
	Status            string `json:"status" enum:"init,pending,active,failed"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

// CreatedProjectResponse additionally carries the bearer token. It is the
// only place the token ever appears.
type CreatedProjectResponse struct {
	ProjectResponse
	Token string `json:"token"`
}

type TaskResponse struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	Status       string  `json:"status" enum:"pending,processing,success,failed"`
	Result       *string `json:"result,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type GenerateResponse struct {
	TaskID string `json:"task_id"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type EventResponse struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Payload   string `json:"payload_json"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:                p.ID,
		Name:              p.Name,
		SourceOpenAPIURL:  p.SourceOpenAPIURL,
		GitRepoURL:        p.GitRepoURL,
		SourceLanguage:    p.SourceLanguage,
		CallbackType:      p.CallbackType,
		CustomCallbackURL: p.CustomCallbackURL,
		Status:            p.Status,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		ProjectID:    t.ProjectID,
		Status:       t.Status,
		Result:       t.Result,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		ProjectID: e.ProjectID,
		TaskID:    e.TaskID,
		Payload:   e.Payload,
	}
}
