package store

const (
	TaskStatusOpen = "open"
	TaskStatusDone = "done"

	EventStatusScheduled = "scheduled"
	EventStatusCanceled  = "canceled"
)

type Task struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Due         string `json:"due,omitempty"`
	Notes       string `json:"notes,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
	CompletedAt int64  `json:"completed_at,omitempty"`
}

type Event struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Location  string `json:"location,omitempty"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type TaskUpdate struct {
	Title *string
	Due   *string
	Notes *string
}

type EventUpdate struct {
	Title     *string
	StartTime *string
	EndTime   *string
	Location  *string
}
