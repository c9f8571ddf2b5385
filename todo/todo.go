// Package todo is the shared-todo application: collaborative task lists
// between two parties, stored as protocol records on each party's node.
package todo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openwebnode/dwn/agent"
	"github.com/openwebnode/dwn/did"
	"github.com/openwebnode/dwn/node/index"
	"github.com/openwebnode/dwn/protocol"
	"github.com/openwebnode/dwn/sync/grpcnode"
)

const (
	ProtocolURI = "https://didcomm.org/shared-todo"
	ListSchema  = "https://didcomm.org/shared-todo/schemas/list"
	TodoSchema  = "https://didcomm.org/shared-todo/schemas/todo"
	DataFormat  = "application/json"
)

// Anyone may start a list; everything under a list is private to the list's
// author and recipient.
const protocolJSON = `{
  "protocol": "https://didcomm.org/shared-todo",
  "published": true,
  "types": {
    "list": {
      "schema": "https://didcomm.org/shared-todo/schemas/list",
      "dataFormats": ["application/json"]
    },
    "todo": {
      "schema": "https://didcomm.org/shared-todo/schemas/todo",
      "dataFormats": ["application/json"]
    }
  },
  "structure": {
    "list": {
      "$actions": [
        {"who": "anyone", "can": "write"},
        {"who": "recipient", "can": "read"}
      ],
      "todo": {
        "$actions": [
          {"who": "author", "of": "list", "can": "write"},
          {"who": "recipient", "of": "list", "can": "write"},
          {"who": "author", "of": "list", "can": "read"},
          {"who": "recipient", "of": "list", "can": "read"}
        ]
      }
    }
  }
}`

// Definition parses the embedded shared-todo protocol.
func Definition() (*protocol.Definition, error) {
	return protocol.Parse([]byte(protocolJSON))
}

// List is the payload of a list record.
type List struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author"`
	Recipient   string `json:"recipient,omitempty"`
}

// Todo is the payload of a todo record.
type Todo struct {
	Completed   bool   `json:"completed"`
	Description string `json:"description"`
	Author      string `json:"author"`
	ParentID    string `json:"parentId"`
}

type ListView struct {
	RecordID string `json:"recordId"`
	List
}

type TodoView struct {
	RecordID string `json:"recordId"`
	Todo
}

// App drives the shared-todo protocol through a signing agent.
type App struct {
	agent *agent.Agent
}

func New(a *agent.Agent) *App { return &App{agent: a} }

// Install configures the shared-todo protocol on the agent's node if it is
// not installed yet.
func (app *App) Install(ctx context.Context) error {
	def, err := Definition()
	if err != nil {
		return err
	}
	reply, err := app.agent.ConfigureProtocol(ctx, def)
	if err != nil {
		return err
	}
	if reply.Status.Code != 202 {
		return fmt.Errorf("todo: protocol install refused: %d %s", reply.Status.Code, reply.Status.Detail)
	}
	return nil
}

// CreateList starts a list shared with recipient and returns its record id.
func (app *App) CreateList(ctx context.Context, title, description string, recipient did.DID) (string, error) {
	data, err := json.Marshal(List{
		Title:       title,
		Description: description,
		Author:      string(app.agent.ID.DID),
		Recipient:   string(recipient),
	})
	if err != nil {
		return "", err
	}
	reply, err := app.agent.CreateRecord(ctx, agent.CreateOptions{
		Protocol:     ProtocolURI,
		ProtocolPath: "list",
		Schema:       ListSchema,
		DataFormat:   DataFormat,
		Recipient:    string(recipient),
	}, data)
	if err != nil {
		return "", err
	}
	if reply.Status.Code != 202 {
		return "", fmt.Errorf("todo: create list refused: %d %s", reply.Status.Code, reply.Status.Detail)
	}
	return reply.RecordID, nil
}

// Lists returns every list visible to the agent, newest first.
func (app *App) Lists(ctx context.Context) ([]ListView, error) {
	reply := app.agent.Node.RecordsQuery(ctx, index.Filter{
		Protocol:     ProtocolURI,
		ProtocolPath: "list",
	}, app.agent.ID.DID)
	if reply.Status.Code != 200 {
		return nil, fmt.Errorf("todo: list query failed: %d %s", reply.Status.Code, reply.Status.Detail)
	}

	out := make([]ListView, 0, len(reply.Entries))
	for _, e := range reply.Entries {
		read := app.agent.ReadRecord(ctx, e.RecordID)
		if read.Status.Code != 200 {
			continue
		}
		var l List
		if err := json.Unmarshal(read.Data, &l); err != nil {
			continue
		}
		out = append(out, ListView{RecordID: e.RecordID, List: l})
	}
	return out, nil
}

// AddTodo appends a task to a list and returns its record id.
func (app *App) AddTodo(ctx context.Context, listID, description string) (string, error) {
	data, err := json.Marshal(Todo{
		Description: description,
		Author:      string(app.agent.ID.DID),
		ParentID:    listID,
	})
	if err != nil {
		return "", err
	}
	reply, err := app.agent.CreateRecord(ctx, agent.CreateOptions{
		Protocol:     ProtocolURI,
		ProtocolPath: "list/todo",
		Schema:       TodoSchema,
		DataFormat:   DataFormat,
		ParentID:     listID,
	}, data)
	if err != nil {
		return "", err
	}
	if reply.Status.Code != 202 {
		return "", fmt.Errorf("todo: add todo refused: %d %s", reply.Status.Code, reply.Status.Detail)
	}
	return reply.RecordID, nil
}

// Todos returns a list's tasks, newest first.
func (app *App) Todos(ctx context.Context, listID string) ([]TodoView, error) {
	reply := app.agent.Node.RecordsQuery(ctx, index.Filter{
		Protocol: ProtocolURI,
		ParentID: listID,
	}, app.agent.ID.DID)
	if reply.Status.Code != 200 {
		return nil, fmt.Errorf("todo: todo query failed: %d %s", reply.Status.Code, reply.Status.Detail)
	}

	out := make([]TodoView, 0, len(reply.Entries))
	for _, e := range reply.Entries {
		read := app.agent.ReadRecord(ctx, e.RecordID)
		if read.Status.Code != 200 {
			continue
		}
		var td Todo
		if err := json.Unmarshal(read.Data, &td); err != nil {
			continue
		}
		out = append(out, TodoView{RecordID: e.RecordID, Todo: td})
	}
	return out, nil
}

// ToggleCompleted flips a task's completed flag in a new revision.
func (app *App) ToggleCompleted(ctx context.Context, todoID string) (bool, error) {
	read := app.agent.ReadRecord(ctx, todoID)
	if read.Status.Code != 200 {
		return false, fmt.Errorf("todo: read failed: %d %s", read.Status.Code, read.Status.Detail)
	}
	var td Todo
	if err := json.Unmarshal(read.Data, &td); err != nil {
		return false, err
	}
	td.Completed = !td.Completed

	data, err := json.Marshal(td)
	if err != nil {
		return false, err
	}
	reply, err := app.agent.UpdateRecord(ctx, todoID, data)
	if err != nil {
		return false, err
	}
	if reply.Status.Code != 202 {
		return false, fmt.Errorf("todo: toggle refused: %d %s", reply.Status.Code, reply.Status.Detail)
	}
	return td.Completed, nil
}

// DeleteTodo tombstones a task.
func (app *App) DeleteTodo(ctx context.Context, todoID string) error {
	reply, err := app.agent.DeleteRecord(ctx, todoID)
	if err != nil {
		return err
	}
	if reply.Status.Code != 202 {
		return fmt.Errorf("todo: delete refused: %d %s", reply.Status.Code, reply.Status.Detail)
	}
	return nil
}

// SendList delivers a list and all its tasks to a remote node, ahead of the
// background sync.
func (app *App) SendList(ctx context.Context, peer *grpcnode.Client, listID string) error {
	if code, err := app.agent.Send(ctx, peer, listID); err != nil {
		return err
	} else if code != 202 {
		return fmt.Errorf("todo: remote refused list: %d", code)
	}

	reply := app.agent.Node.RecordsQuery(ctx, index.Filter{Protocol: ProtocolURI, ParentID: listID}, app.agent.ID.DID)
	if reply.Status.Code != 200 {
		return fmt.Errorf("todo: todo query failed: %d %s", reply.Status.Code, reply.Status.Detail)
	}
	// Oldest first so parents land before their children on the remote.
	for i := len(reply.Entries) - 1; i >= 0; i-- {
		if code, err := app.agent.Send(ctx, peer, reply.Entries[i].RecordID); err != nil {
			return err
		} else if code != 202 {
			return fmt.Errorf("todo: remote refused todo: %d", code)
		}
	}
	return nil
}
