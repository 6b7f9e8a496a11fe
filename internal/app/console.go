package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/manifoldco/promptui"

	"github.com/fpt/framebridge/internal/bridge"
)

// Dispatcher runs operator commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, req bridge.Request) bridge.Response
	Status() bridge.Status
}

// Console issues operator commands typed by the user.
type Console struct {
	ctx context.Context
	d   Dispatcher
	out io.Writer
}

// NewConsole creates a console writing to out.
func NewConsole(ctx context.Context, d Dispatcher, out io.Writer) *Console {
	return &Console{ctx: ctx, d: d, out: out}
}

// SlashCommand represents a command that starts with /
type SlashCommand struct {
	Name        string
	Description string
	Handler     func(*Console) bool // Returns true if should exit
}

func dispatchCommand(action string) func(*Console) bool {
	return func(c *Console) bool {
		resp := c.d.Dispatch(c.ctx, bridge.Request{Action: action})
		WriteResponse(c.out, action, resp)
		return false
	}
}

// getSlashCommands returns all available slash commands
func getSlashCommands() []SlashCommand {
	return []SlashCommand{
		{Name: "stats", Description: "Ask the embedded worker for its statistics", Handler: dispatchCommand(bridge.ActionGetStats)},
		{Name: "toggle", Description: "Turn the cleaner on or off", Handler: dispatchCommand(bridge.ActionToggle)},
		{Name: "hide", Description: "Hide matching elements right now", Handler: dispatchCommand(bridge.ActionHideNow)},
		{Name: "debug", Description: "Show detector and injection diagnostics", Handler: dispatchCommand(bridge.ActionGetDebugInfo)},
		{Name: "rediscover", Description: "Drop the current frame and search again", Handler: dispatchCommand(bridge.ActionRediscover)},
		{
			Name:        "status",
			Description: "Show the current state summary",
			Handler: func(c *Console) bool {
				WriteStatus(c.out, c.d.Status())
				return false
			},
		},
		{
			Name:        "help",
			Description: "Show available commands and usage information",
			Handler: func(c *Console) bool {
				showInteractiveHelp(c.out)
				return false
			},
		},
		{
			Name:        "quit",
			Description: "Exit the console",
			Handler: func(c *Console) bool {
				fmt.Fprintln(c.out, "👋 Goodbye!")
				return true
			},
		},
		{
			Name:        "exit",
			Description: "Exit the console (alias for quit)",
			Handler: func(c *Console) bool {
				fmt.Fprintln(c.out, "👋 Goodbye!")
				return true
			},
		},
	}
}

// HandleLine processes one line of input. Returns true if the line
// requests exit.
func (c *Console) HandleLine(input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}
	if !strings.HasPrefix(input, "/") {
		fmt.Fprintln(c.out, "💡 Commands start with '/'. Type /help for the list.")
		return false
	}
	return handleSlashCommand(input, c)
}

// handleSlashCommand processes commands that start with /
// Returns true if the command requests program exit, false otherwise
func handleSlashCommand(input string, c *Console) bool {
	if strings.TrimSpace(input) == "/" {
		return showCommandSelector(c)
	}

	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false
	}

	commandName := strings.TrimPrefix(parts[0], "/")
	commands := getSlashCommands()

	for _, cmd := range commands {
		if cmd.Name == commandName {
			return cmd.Handler(c)
		}
	}

	fmt.Fprintf(c.out, "❌ Unknown command: /%s\n", commandName)
	fmt.Fprintln(c.out, "💡 Available commands:")
	for _, cmd := range commands {
		fmt.Fprintf(c.out, "  /%s - %s\n", cmd.Name, cmd.Description)
	}
	fmt.Fprintln(c.out, "\n💡 Tip: Type just '/' to see an interactive command selector!")
	return false
}

// showCommandSelector shows an interactive command selector using promptui
func showCommandSelector(c *Console) bool {
	commands := getSlashCommands()

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}?",
		Active:   "▸ {{ .Name | cyan }} - {{ .Description | faint }}",
		Inactive: "  {{ .Name | cyan }} - {{ .Description | faint }}",
		Selected: "{{ .Name | red | cyan }}",
		Details: `
--------- Command Details ----------
{{ "Name:" | faint }}\t{{ .Name }}
{{ "Description:" | faint }}\t{{ .Description }}`,
	}

	searcher := func(input string, index int) bool {
		command := commands[index]
		name := strings.ReplaceAll(strings.ToLower(command.Name), " ", "")
		input = strings.ReplaceAll(strings.ToLower(input), " ", "")
		return strings.Contains(name, input)
	}

	prompt := promptui.Select{
		Label:     "Choose a command",
		Items:     commands,
		Templates: templates,
		Size:      10,
		Searcher:  searcher,
	}

	i, _, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			fmt.Fprintln(c.out, "\nCancelled.")
			return false
		}
		fmt.Fprintf(c.out, "Command selection failed: %v\n", err)
		return false
	}
	return commands[i].Handler(c)
}

// StartInteractiveMode runs the readline-based console until /quit, EOF or
// ctx cancellation.
func (c *Console) StartInteractiveMode() {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:              "framebridge> ",
		AutoComplete:        createAutoCompleter(),
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		HistoryLimit:        500,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		fmt.Fprintf(c.out, "❌ Failed to initialize interactive mode: %v\n", err)
		fmt.Fprintln(c.out, "💡 Pipe commands on stdin instead: echo /stats | framebridge")
		return
	}
	defer rl.Close()

	go func() {
		<-c.ctx.Done()
		_ = rl.Close()
	}()

	WriteSplashScreen(c.out, true)
	fmt.Fprintln(c.out, "💬 Commands start with '/'. Type '/' alone for a selector, /help for the list.")
	fmt.Fprintln(c.out, strings.Repeat("=", 60))

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			break
		}

		if c.HandleLine(line) {
			break
		}
		if c.ctx.Err() != nil {
			break
		}
	}
}

// RunScript executes one command per line from r, for non-interactive use.
func (c *Console) RunScript(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if c.ctx.Err() != nil {
			return c.ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "/" {
			fmt.Fprintln(c.out, "💡 The command selector needs a terminal.")
			continue
		}
		if c.HandleLine(line) {
			return nil
		}
	}
	return scanner.Err()
}

// createAutoCompleter creates an autocompletion function for readline
func createAutoCompleter() *readline.PrefixCompleter {
	commands := getSlashCommands()
	var pcItems []readline.PrefixCompleterInterface
	for _, cmd := range commands {
		pcItems = append(pcItems, readline.PcItem("/"+cmd.Name))
	}
	pcItems = append(pcItems, readline.PcItem("/"))
	return readline.NewPrefixCompleter(pcItems...)
}

// filterInput filters input runes to handle special keys
func filterInput(r rune) (rune, bool) {
	switch r {
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func showInteractiveHelp(w io.Writer) {
	commands := getSlashCommands()
	fmt.Fprintln(w, "\n📚 Console Commands:")
	fmt.Fprintln(w, "  /                - Show interactive command selector")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  /%-15s - %s\n", cmd.Name, cmd.Description)
	}
	fmt.Fprintln(w, "\n⌨️  Keys:")
	fmt.Fprintln(w, "  Ctrl+C           - Cancel current input")
	fmt.Fprintln(w, "  Ctrl+R           - Search input history")
	fmt.Fprintln(w, "  Tab              - Auto-complete commands")
}
