package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/openwebnode/dwn/did"
	"github.com/openwebnode/dwn/sync/grpcnode"
	"github.com/openwebnode/dwn/todo"
)

func cmdTodo(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: dwn todo <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: install, create-list, lists, add, tasks, toggle, remove, send-list")
		return 2
	}
	switch args[0] {
	case "install":
		return cmdTodoInstall(args[1:], out, errOut)
	case "create-list":
		return cmdTodoCreateList(args[1:], out, errOut)
	case "lists":
		return cmdTodoLists(args[1:], out, errOut)
	case "add":
		return cmdTodoAdd(args[1:], out, errOut)
	case "tasks":
		return cmdTodoTasks(args[1:], out, errOut)
	case "toggle":
		return cmdTodoToggle(args[1:], out, errOut)
	case "remove":
		return cmdTodoRemove(args[1:], out, errOut)
	case "send-list":
		return cmdTodoSendList(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown todo subcommand: %s\n", args[0])
		return 2
	}
}

func openTodoApp(sf *storeFlags, errOut io.Writer) (*todo.App, func(), bool) {
	a, cleanup, err := sf.openAgent()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return nil, nil, false
	}
	return todo.New(a), cleanup, true
}

func cmdTodoInstall(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("todo install", flag.ContinueOnError)
	fs.SetOutput(errOut)
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	app, cleanup, ok := openTodoApp(sf, errOut)
	if !ok {
		return 1
	}
	defer cleanup()

	if err := app.Install(context.Background()); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, todo.ProtocolURI)
	return 0
}

func cmdTodoCreateList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("todo create-list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	title := fs.String("title", "", "list title")
	description := fs.String("description", "", "list description")
	recipient := fs.String("recipient", "", "DID the list is shared with")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *title == "" {
		fmt.Fprintln(errOut, "todo create-list: --title is required")
		return 2
	}
	app, cleanup, ok := openTodoApp(sf, errOut)
	if !ok {
		return 1
	}
	defer cleanup()

	listID, err := app.CreateList(context.Background(), *title, *description, did.DID(*recipient))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, listID)
	return 0
}

func cmdTodoLists(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("todo lists", flag.ContinueOnError)
	fs.SetOutput(errOut)
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	app, cleanup, ok := openTodoApp(sf, errOut)
	if !ok {
		return 1
	}
	defer cleanup()

	lists, err := app.Lists(context.Background())
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, l := range lists {
		fmt.Fprintf(out, "%s\t%s\n", l.RecordID, l.Title)
	}
	return 0
}

func cmdTodoAdd(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("todo add", flag.ContinueOnError)
	fs.SetOutput(errOut)
	listID := fs.String("list", "", "list record id")
	description := fs.String("description", "", "task description")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listID == "" || *description == "" {
		fmt.Fprintln(errOut, "todo add: --list and --description are required")
		return 2
	}
	app, cleanup, ok := openTodoApp(sf, errOut)
	if !ok {
		return 1
	}
	defer cleanup()

	todoID, err := app.AddTodo(context.Background(), *listID, *description)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, todoID)
	return 0
}

func cmdTodoTasks(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("todo tasks", flag.ContinueOnError)
	fs.SetOutput(errOut)
	listID := fs.String("list", "", "list record id")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listID == "" {
		fmt.Fprintln(errOut, "todo tasks: --list is required")
		return 2
	}
	app, cleanup, ok := openTodoApp(sf, errOut)
	if !ok {
		return 1
	}
	defer cleanup()

	tasks, err := app.Todos(context.Background(), *listID)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, task := range tasks {
		mark := " "
		if task.Completed {
			mark = "x"
		}
		fmt.Fprintf(out, "[%s] %s\t%s\n", mark, task.RecordID, task.Description)
	}
	return 0
}

func cmdTodoToggle(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("todo toggle", flag.ContinueOnError)
	fs.SetOutput(errOut)
	id := fs.String("id", "", "task record id")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintln(errOut, "todo toggle: --id is required")
		return 2
	}
	app, cleanup, ok := openTodoApp(sf, errOut)
	if !ok {
		return 1
	}
	defer cleanup()

	done, err := app.ToggleCompleted(context.Background(), *id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if done {
		fmt.Fprintln(out, "completed")
	} else {
		fmt.Fprintln(out, "reopened")
	}
	return 0
}

func cmdTodoRemove(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("todo remove", flag.ContinueOnError)
	fs.SetOutput(errOut)
	id := fs.String("id", "", "task record id")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintln(errOut, "todo remove: --id is required")
		return 2
	}
	app, cleanup, ok := openTodoApp(sf, errOut)
	if !ok {
		return 1
	}
	defer cleanup()

	if err := app.DeleteTodo(context.Background(), *id); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func cmdTodoSendList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("todo send-list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	listID := fs.String("list", "", "list record id")
	recipient := fs.String("recipient", "", "recipient DID, resolved via the config's peer map")
	target := fs.String("target", "", "remote node gRPC target")
	configPath := fs.String("config", "", "node config file holding the peer map")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listID == "" {
		fmt.Fprintln(errOut, "todo send-list: --list is required")
		return 2
	}
	addr, err := resolveSendTarget(*configPath, *recipient, *target)
	if err != nil {
		fmt.Fprintln(errOut, "todo send-list:", err)
		return 2
	}
	app, cleanup, ok := openTodoApp(sf, errOut)
	if !ok {
		return 1
	}
	defer cleanup()

	peer, err := grpcnode.Dial(addr, grpcnode.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer peer.Close()

	if err := app.SendList(context.Background(), peer, *listID); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, "sent")
	return 0
}
