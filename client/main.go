// The chat client: dial the server, log in, then run a reader goroutine that
// renders every received line as it arrives and a stdin loop for commands.
// Chat mode (|<target>) replays history and then sends typed text straight
// to that target until /esc.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"ipchat/wire"
)

func main() {
	serverAddr := flag.String("server", "localhost:8080", "chat server address (host:port)")
	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to %s: %v\n", *serverAddr, err)
		os.Exit(1)
	}
	defer conn.Close()

	stdin := bufio.NewReader(os.Stdin)
	w := wire.NewWriter(conn)
	r := wire.NewReader(conn)

	if err := login(stdin, w, r); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	go receiveLoop(r)
	inputLoop(stdin, w)
}

func login(stdin *bufio.Reader, w *wire.Writer, r *wire.Reader) error {
	username := prompt(stdin, "Username: ")
	password := prompt(stdin, "Password: ")

	if err := w.WriteLine(username + ":" + password); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	response, err := r.ReadLine()
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}
	fmt.Println(response)

	if !strings.HasPrefix(response, "Login successful") {
		return fmt.Errorf("login rejected")
	}
	return nil
}

func prompt(stdin *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

// receiveLoop prints every server line as it arrives. No buffering
// heuristics: a line is a line, whatever its content.
func receiveLoop(r *wire.Reader) {
	for {
		line, err := r.ReadLine()
		if err != nil {
			fmt.Printf("\n[Disconnected from server]: %v\n", err)
			os.Exit(0)
		}
		fmt.Println(line)
	}
}

func inputLoop(stdin *bufio.Reader, w *wire.Writer) {
	chatTarget := ""

	for {
		if chatTarget != "" {
			fmt.Printf("%s> ", chatTarget)
		} else {
			fmt.Print("> ")
		}

		line, err := stdin.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if line == "/exit" {
			w.WriteLine("/exit")
			return
		}

		if line == "/esc" {
			if chatTarget != "" {
				chatTarget = ""
				fmt.Println("Exited chat mode. Back to main menu.")
			}
			continue
		}

		// |<target> enters chat mode and requests the history replay.
		if strings.HasPrefix(line, "|") {
			target := strings.TrimSpace(line[1:])
			if target == "" {
				continue
			}
			chatTarget = target
			fmt.Printf("--- Chat with %s (use '/esc' to leave) ---\n", target)
			if err := w.WriteLine("|" + target); err != nil {
				fmt.Printf("Failed to request history: %v\n", err)
				chatTarget = ""
			}
			continue
		}

		if chatTarget != "" {
			if strings.HasPrefix(line, "/") {
				fmt.Println("Only '/esc' is allowed in chat mode.")
				continue
			}
			if err := w.WriteLine("/" + chatTarget + " " + line); err != nil {
				fmt.Printf("Failed to send message: %v\n", err)
				continue
			}
			fmt.Printf("[You] %s\n", line)
			continue
		}

		if err := w.WriteLine(line); err != nil {
			fmt.Printf("Failed to send to server: %v\n", err)
		}
	}
}
