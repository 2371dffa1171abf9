package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type traceEntry struct {
	Step       string   `json:"step"`
	Message    string   `json:"message"`
	Error      string   `json:"error,omitempty"`
	DurationMs *float64 `json:"duration_ms,omitempty"`
}

func main() {
	server := flag.String("server", "http://localhost:5000", "Trebol server URL")
	user := flag.String("user", "cli-user", "User id sent with each message")
	subscriber := flag.Bool("subscriber", false, "Send messages as a subscriber")
	showTrace := flag.Bool("trace", false, "Print the processing trace after each answer")
	flag.Parse()

	fmt.Println("Trebol CLI Chat")
	fmt.Printf("Server: %s | User: %s | Subscriber: %v\n", *server, *user, *subscriber)
	fmt.Println("Type a 5-digit ticket number or any question. 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /health, /stats, /logs <request_id>, /trace, /sub")
	fmt.Println("---")

	fetchHealth(*server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch {
		case input == "exit" || input == "quit":
			fmt.Println("Bye!")
			return
		case input == "/health":
			fetchHealth(*server)
		case input == "/stats":
			fetchStats(*server)
		case strings.HasPrefix(input, "/logs"):
			fetchLogs(*server, strings.TrimSpace(strings.TrimPrefix(input, "/logs")))
		case input == "/trace":
			*showTrace = !*showTrace
			fmt.Printf("Trace display: %v\n", *showTrace)
		case input == "/sub":
			*subscriber = !*subscriber
			fmt.Printf("Subscriber: %v\n", *subscriber)
		default:
			sendMessage(*server, *user, input, *subscriber, *showTrace)
		}
	}
}

func fetchHealth(server string) {
	resp, err := http.Get(server + "/health")
	if err != nil {
		printError("Failed to fetch health: %v", err)
		return
	}
	defer resp.Body.Close()

	var health struct {
		Status   string          `json:"status"`
		Backend  string          `json:"backend"`
		Services map[string]bool `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		printError("Failed to parse health: %v", err)
		return
	}
	fmt.Printf("Backend %s is %s\n", health.Backend, health.Status)
	for name, ok := range health.Services {
		icon := "\033[31m✗\033[0m"
		if ok {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Printf("  %s %s\n", icon, name)
	}
}

func fetchStats(server string) {
	resp, err := http.Get(server + "/stats")
	if err != nil {
		printError("Failed to fetch stats: %v", err)
		return
	}
	defer resp.Body.Close()

	var stats struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Data    struct {
			Total     int `json:"total"`
			Available int `json:"available"`
			Sold      int `json:"sold"`
			Reserved  int `json:"reserved"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		printError("Failed to parse stats: %v", err)
		return
	}
	if !stats.Success {
		printError("Stats unavailable: %s", stats.Error)
		return
	}
	d := stats.Data
	fmt.Printf("Tickets: %d total, %d available, %d sold, %d reserved\n", d.Total, d.Available, d.Sold, d.Reserved)
}

func fetchLogs(server, requestID string) {
	url := server + "/logs?limit=20"
	if requestID != "" {
		url = server + "/logs?request_id=" + requestID
	}
	resp, err := http.Get(url)
	if err != nil {
		printError("Failed to fetch logs: %v", err)
		return
	}
	defer resp.Body.Close()

	var logs struct {
		Logs []traceEntry `json:"logs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&logs); err != nil {
		printError("Failed to parse logs: %v", err)
		return
	}
	if len(logs.Logs) == 0 {
		fmt.Println("No log entries.")
		return
	}
	printTrace(logs.Logs)
}

func sendMessage(server, user, content string, subscriber, showTrace bool) {
	body, _ := json.Marshal(map[string]interface{}{
		"userId":       user,
		"message":      content,
		"isSubscriber": subscriber,
	})

	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(server+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var msg struct {
		Message        string       `json:"message"`
		RequestID      string       `json:"requestId"`
		Outcome        string       `json:"outcome"`
		FallbackUsed   bool         `json:"fallbackUsed"`
		ProcessingTime float64      `json:"processingTime"`
		Trace          []traceEntry `json:"trace"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}
	if resp.StatusCode != http.StatusOK {
		printError("Server error (%d)", resp.StatusCode)
	}

	fmt.Println(msg.Message)
	note := ""
	if msg.FallbackUsed {
		note = ", fallback"
	}
	fmt.Printf("\033[90m[%s] %s%s, %.0fms\033[0m\n", msg.RequestID, msg.Outcome, note, msg.ProcessingTime)
	if showTrace {
		printTrace(msg.Trace)
	}
}

func printTrace(entries []traceEntry) {
	for _, e := range entries {
		line := fmt.Sprintf("  %-28s %s", e.Step, e.Message)
		if e.DurationMs != nil {
			line += fmt.Sprintf(" (%.1fms)", *e.DurationMs)
		}
		if e.Error != "" {
			line += fmt.Sprintf(" \033[31m%s\033[0m", e.Error)
		}
		fmt.Println(line)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
