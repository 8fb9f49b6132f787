package webhook

// GitHub webhook payloads, reduced to the fields that decide whether the
// bundle is regenerated.

type PushEvent struct {
	Ref        string     `json:"ref"`
	After      string     `json:"after"`
	Repository Repository `json:"repository"`
	Pusher     struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// IssuesEvent also covers pull_request events; both carry an action.
type IssuesEvent struct {
	Action     string     `json:"action"`
	Repository Repository `json:"repository"`
	Sender     User       `json:"sender"`
}

type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

type User struct {
	Login string `json:"login"`
}
