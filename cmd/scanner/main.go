// Command scanner is a line-oriented checkout terminal. Each line is either a
// command or a barcode read from a handheld scanner in keyboard mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"carparts/backend/internal/cart"
	"carparts/backend/internal/client"
	"carparts/backend/internal/config"
	"carparts/backend/internal/domain"
)

const help = `commands:
  login <email> <password>
  <barcode>                 scan one unit
  qty <partID> <n>          set quantity
  rm <partID>               remove line
  clear | show
  checkout <CASH|CARD> [customer name]
  logout | quit`

type scanner struct {
	api      *client.Client
	sessions *client.SessionStore
	basket   *cart.Cart
	out      io.Writer
}

func main() {
	config.LoadDotEnv()

	baseURL := envOr("CARPARTS_API_URL", "http://127.0.0.1:5000")
	sessionPath := os.Getenv("CARPARTS_SESSION_FILE")
	if sessionPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("scanner: %v", err)
		}
		sessionPath = filepath.Join(home, ".carparts", "session.json")
	}

	s := &scanner{
		api:      client.New(baseURL, nil),
		sessions: client.NewSessionStore(sessionPath),
		basket:   cart.New(),
		out:      os.Stdout,
	}
	if err := s.restore(); err != nil {
		log.Printf("[scanner] WARN: ignoring saved session: %v", err)
	}
	s.run(context.Background(), os.Stdin)
}

func (s *scanner) restore() error {
	session, err := s.sessions.Load()
	if err != nil {
		return err
	}
	if session.Valid() {
		s.api.Use(session)
		fmt.Fprintf(s.out, "logged in as %s\n", session.User.Username)
	}
	return nil
}

func (s *scanner) run(ctx context.Context, in io.Reader) {
	fmt.Fprintln(s.out, help)
	lines := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !lines.Scan() {
			return
		}
		if quit := s.handle(ctx, lines.Text()); quit {
			return
		}
	}
}

// handle runs one input line and reports whether the loop should stop.
func (s *scanner) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(s.out, help)
	case "login":
		if len(fields) != 3 {
			fmt.Fprintln(s.out, "usage: login <email> <password>")
			return false
		}
		session, err := s.api.Login(ctx, fields[1], fields[2])
		if err != nil {
			s.fail(err)
			return false
		}
		if err := s.sessions.Save(session); err != nil {
			log.Printf("[scanner] WARN: session not saved: %v", err)
		}
		fmt.Fprintf(s.out, "logged in as %s\n", session.User.Username)
	case "logout":
		s.api.Logout()
		s.basket.Clear()
		if err := s.sessions.Clear(); err != nil {
			log.Printf("[scanner] WARN: session not cleared: %v", err)
		}
		fmt.Fprintln(s.out, "logged out")
	case "qty":
		if len(fields) != 3 {
			fmt.Fprintln(s.out, "usage: qty <partID> <n>")
			return false
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			fmt.Fprintln(s.out, "quantity must be a number")
			return false
		}
		if err := s.basket.SetQuantity(fields[1], n); err != nil {
			s.fail(err)
			return false
		}
		s.show()
	case "rm":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, "usage: rm <partID>")
			return false
		}
		if err := s.basket.Remove(fields[1]); err != nil {
			s.fail(err)
			return false
		}
		s.show()
	case "clear":
		s.basket.Clear()
		s.show()
	case "show":
		s.show()
	case "checkout":
		s.checkout(ctx, fields[1:])
	default:
		s.scan(ctx, fields[0])
	}
	return false
}

func (s *scanner) scan(ctx context.Context, barcode string) {
	part, err := s.api.PartByBarcode(ctx, barcode)
	if client.IsNotFound(err) {
		fmt.Fprintf(s.out, "no part with barcode %s\n", barcode)
		return
	}
	if err != nil {
		s.fail(err)
		return
	}
	s.basket.Scan(cart.PartFrom(part.Part))
	fmt.Fprintf(s.out, "+ %s (%s) %s\n", part.Name, part.PartNumber, part.SellingPrice.StringFixed(2))
	if part.LowStock {
		fmt.Fprintf(s.out, "  low stock: %d left\n", part.Quantity)
	}
}

func (s *scanner) checkout(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: checkout <CASH|CARD> [customer name]")
		return
	}
	method := domain.PaymentMethod(strings.ToUpper(args[0]))
	if method == "" || !method.Valid() {
		fmt.Fprintln(s.out, "payment method must be CASH or CARD")
		return
	}
	req, err := s.basket.OrderRequest(cart.Checkout{
		CustomerName:  strings.Join(args[1:], " "),
		PaymentMethod: method,
	})
	if err != nil {
		s.fail(err)
		return
	}
	order, err := s.api.CreateOrder(ctx, req)
	if err != nil {
		// The cart is kept so the checkout can be retried.
		s.fail(err)
		return
	}
	s.basket.CheckoutSucceeded()
	fmt.Fprintf(s.out, "order %s saved, total %s\n", order.OrderNumber, order.TotalAmount.StringFixed(2))
}

func (s *scanner) show() {
	if s.basket.Len() == 0 {
		fmt.Fprintln(s.out, "cart is empty")
		return
	}
	for _, e := range s.basket.Entries() {
		fmt.Fprintf(s.out, "%-36s %-24s x%-3d %8s\n", e.Part.ID, e.Part.Name, e.Quantity, e.LineTotal().StringFixed(2))
	}
	fmt.Fprintf(s.out, "TOTAL %s\n", s.basket.Total().StringFixed(2))
}

func (s *scanner) fail(err error) {
	if errors.Is(err, client.ErrNotLoggedIn) {
		fmt.Fprintln(s.out, "login first")
		return
	}
	fmt.Fprintf(s.out, "error: %v\n", err)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
