package domain

// Project statuses.
const (
	ProjectInit    = "init"
	ProjectPending = "pending"
	ProjectActive  = "active"
	ProjectFailed  = "failed"
)

// Task statuses. Transitions are forward-only: pending -> processing -> {success, failed}.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskSuccess    = "success"
	TaskFailed     = "failed"
)

// Callback delivery variants.
const (
	CallbackPushToRepo = "push_to_repo"
	CallbackCustomAPI  = "custom_api"
)

type Project struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	SourceOpenAPIURL    string `json:"source_openapi_url,omitempty"`
	GitRepoURL          string `json:"git_repo_url,omitempty"`
	GitAuthToken        string `json:"-"`
	SourceLanguage      string `json:"source_language,omitempty"`
	CallbackType        string `json:"callback_type" enum:"push_to_repo,custom_api"`
	CustomCallbackURL   string `json:"custom_callback_url,omitempty"`
	CustomCallbackToken string `json:"-"`
	TokenHash           string `json:"-"`
	Status              string `json:"status" enum:"init,pending,active,failed"`
	CreatedAt           string `json:"created_at" format:"date-time"`
	UpdatedAt           string `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	Status       string  `json:"status" enum:"pending,processing,success,failed"`
	Result       *string `json:"result,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the task has reached a final status.
func (t Task) Terminal() bool {
	return t.Status == TaskSuccess || t.Status == TaskFailed
}

// StoredSpec is one generated document revision. Rows are append-only; the
// newest row per project is the "previous spec" for the next run.
type StoredSpec struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	TaskID    string `json:"task_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Payload   string `json:"payload_json"`
}
