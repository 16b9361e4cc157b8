// Command line client for the boardroom agent trust hub.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrGarbonzo/boardroom-tee/clients/go/boardroom"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("BOARDROOM_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := boardroom.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: boardroom register <identity> <agent_type> <capabilities,comma,separated> [endpoint]")
			os.Exit(1)
		}
		measurement := os.Getenv("BOARDROOM_MEASUREMENT")
		if measurement == "" {
			fmt.Fprintln(os.Stderr, "Set BOARDROOM_MEASUREMENT to the dev measurement the hub trusts")
			os.Exit(1)
		}
		endpoint := ""
		if len(os.Args) > 5 {
			endpoint = os.Args[5]
		}
		caps := strings.Split(os.Args[4], ",")
		resp, err := client.Register(os.Args[2], os.Args[3], caps, endpoint, boardroom.DevQuote(measurement))
		exitOnError(err)
		fmt.Printf("Registered as: %s (expires %s)\n", resp.Identity, resp.ExpiresAt)

	case "who":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: boardroom who <identity>")
			os.Exit(1)
		}
		resp, err := client.GetAgent(os.Args[2])
		exitOnError(err)
		printJSON(resp)

	case "directory":
		capability := ""
		if len(os.Args) > 2 {
			capability = os.Args[2]
		}
		resp, err := client.Directory(capability)
		exitOnError(err)
		for _, a := range resp.Agents {
			status := "offline"
			if a.Online {
				status = "online"
			}
			fmt.Printf("  %-20s %-10s %-8s %s\n", a.Identity, a.AgentType, status, strings.Join(a.Capabilities, ","))
		}

	case "route":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: boardroom route <capability>")
			os.Exit(1)
		}
		resp, err := client.Route(os.Args[2], nil)
		exitOnError(err)
		printJSON(resp)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: boardroom send <recipient> <payload>")
			os.Exit(1)
		}
		msg, err := client.Send(os.Args[2], "signed_payload", []byte(os.Args[3]))
		exitOnError(err)
		fmt.Printf("Sent: %s\n", msg.ID)

	case "inbox":
		msgs, err := client.Inbox()
		exitOnError(err)
		if len(msgs) == 0 {
			fmt.Println("Inbox empty")
			return
		}
		for i := range msgs {
			pt, err := client.Open(&msgs[i])
			ts := time.UnixMilli(msgs[i].Timestamp).Format("2006-01-02 15:04:05")
			if err != nil {
				fmt.Printf("[%s] %s: <unreadable: %v>\n", ts, msgs[i].Sender, err)
				continue
			}
			fmt.Printf("[%s] %s: %s\n", ts, msgs[i].Sender, pt)
		}

	case "heartbeat":
		exitOnError(client.Heartbeat())
		fmt.Println("OK")

	case "deregister":
		exitOnError(client.Deregister())
		fmt.Println("Deregistered")

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Boardroom CLI - agent trust hub client

Usage: boardroom <command> [options]

Commands:
  register <identity> <type> <caps>  Register this agent (dev attestation)
  who <identity>                     Get an agent's profile
  directory [capability]             List verified agents
  route <capability>                 Ask the hub for the best agent
  send <recipient> <payload>         Send an encrypted message via the hub
  inbox                              Drain and decrypt queued messages
  heartbeat                          Refresh last-seen at the hub
  deregister                         Leave the registry
  health                             Check hub health

Environment:
  BOARDROOM_URL          Hub base URL (default http://localhost:8080)
  BOARDROOM_CONFIG       Credential directory (default ~/.boardroom)
  BOARDROOM_MEASUREMENT  Dev measurement used by 'register'`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
