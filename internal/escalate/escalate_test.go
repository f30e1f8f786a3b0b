package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
)

func sample() (models.Ticket, []models.Message) {
	entered := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	agent := uint(3)
	t := models.Ticket{
		ID:             17,
		ClientName:     "Carla",
		ClientPhone:    "+5511999990000",
		Subject:        "App crashes on login",
		Department:     "mobile",
		Priority:       2,
		State:          models.StateActive,
		AgentID:        &agent,
		EnteredQueueAt: entered,
	}
	msgs := []models.Message{
		{ID: 1, TicketID: 17, Sender: models.SenderClient, Body: "It crashes\nevery time", SentAt: entered.Add(time.Minute)},
		{ID: 2, TicketID: 17, Sender: models.SenderAgent, AgentID: &agent, Body: "Which version?", SentAt: entered.Add(2 * time.Minute)},
	}
	return t, msgs
}

func TestNew_NotConfigured(t *testing.T) {
	e := New(context.Background(), config.EscalateConfig{})
	if e != nil {
		t.Fatal("expected nil escalator")
	}
	tk, msgs := sample()
	if _, err := e.Escalate(context.Background(), tk, msgs, ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestTranscript(t *testing.T) {
	tk, msgs := sample()
	body := Transcript(tk, msgs, "  Needs a mobile engineer ")

	for _, want := range []string{
		"Needs a mobile engineer\n\n",
		"| Ticket | #17 |",
		"| Department | mobile |",
		"| Agent | 3 |",
		"**client** (09:01:00):",
		"> It crashes\n> every time",
		"**agent** (09:02:00):",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("transcript missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, tk.ClientPhone) {
		t.Error("transcript leaks client phone")
	}
}

func TestTranscript_NoMessages(t *testing.T) {
	tk, _ := sample()
	if body := Transcript(tk, nil, ""); !strings.Contains(body, "_No messages._") {
		t.Errorf("body = %q", body)
	}
}

func TestEscalate_CreatesIssue(t *testing.T) {
	var got github.IssueRequest
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number": 99, "html_url": "https://github.com/acme/support/issues/99"}`))
	}))
	defer srv.Close()

	gh := github.NewClient(nil).WithAuthToken("ghp_test")
	base, _ := url.Parse(srv.URL + "/")
	gh.BaseURL = base
	e := NewWithClient(config.EscalateConfig{Owner: "acme", Repo: "support", Labels: []string{"support"}}, gh)

	tk, msgs := sample()
	issue, err := e.Escalate(context.Background(), tk, msgs, "")
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if issue.Number != 99 || issue.URL != "https://github.com/acme/support/issues/99" {
		t.Errorf("issue = %+v", issue)
	}
	if path != "/repos/acme/support/issues" {
		t.Errorf("path = %q", path)
	}
	if auth != "Bearer ghp_test" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.GetTitle() != "Support ticket #17: App crashes on login" {
		t.Errorf("title = %q", got.GetTitle())
	}
	if got.Labels == nil || len(*got.Labels) != 1 || (*got.Labels)[0] != "support" {
		t.Errorf("labels = %v", got.Labels)
	}
}

type failingIssues struct{}

func (failingIssues) Create(context.Context, string, string, *github.IssueRequest) (*github.Issue, *github.Response, error) {
	return nil, nil, errors.New("403 forbidden")
}

func TestEscalate_Error(t *testing.T) {
	e := &Escalator{owner: "acme", repo: "support", issues: failingIssues{}}
	tk, msgs := sample()
	_, err := e.Escalate(context.Background(), tk, msgs, "")
	if err == nil || !strings.Contains(err.Error(), "acme/support") {
		t.Fatalf("err = %v", err)
	}
}
