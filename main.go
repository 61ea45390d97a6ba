package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	schoolchat "github.com/edusys/schoolchat/app"
	"github.com/edusys/schoolchat/pkg/chat"
	"github.com/edusys/schoolchat/pkg/chattest"
)

func main() {
	roomID := pflag.String("room", "", "room id to open and tail")
	fake := pflag.Bool("fake", false, "run against an in-process fake backend with demo data")
	pflag.Parse()

	// A local .env can stand in for real environment variables.
	_ = godotenv.Load()

	ctx, _ := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	var config *schoolchat.Config
	if *fake {
		var cleanup func()
		config, cleanup = startFake()
		defer cleanup()
	}

	app := schoolchat.New(ctx, config)

	if *roomID != "" {
		go func() {
			// Give the initial room refresh a head start so the
			// display name can resolve.
			time.Sleep(500 * time.Millisecond)
			if err := app.Scheduler.Select(ctx, *roomID); err != nil {
				fmt.Fprintf(os.Stderr, "open room: %v\n", err)
				return
			}
			viewer := app.Rooms.Viewer()
			if room, ok := app.Rooms.Room(*roomID); ok {
				fmt.Printf("== %s ==\n", chat.DisplayName(&room, viewer))
			}
			for _, m := range app.Messages.Messages() {
				printMessage(m)
			}
		}()
	}

	os.Exit(app.Run())
}

func printMessage(m chat.Message) {
	when := m.SentAt.Local().Format("15:04")
	if m.Attachment != nil {
		fmt.Printf("[%s] %s: %s (file: %s, %d bytes)\n",
			when, m.SenderName, m.Content, m.Attachment.Name, m.Attachment.Size)
		return
	}
	fmt.Printf("[%s] %s: %s\n", when, m.SenderName, m.Content)
}

// startFake boots an in-process chattest server with demo rooms and returns
// a config pointed at it.
func startFake() (*schoolchat.Config, func()) {
	srv := chattest.New()
	srv.Token = "demo-token"
	srv.AddRoom(chat.RawRoom{
		ID:   "1",
		Name: "Staff room",
		Type: string(chat.GeneralStaffRoom),
	})
	srv.AddRoom(chat.RawRoom{
		ID:   "2",
		Name: "Support - Greenfield Primary",
		Type: string(chat.SystemSchoolAdmin),
		Participants: []chat.RawParticipant{
			{ID: "100", Name: "Admin", Role: string(chat.SchoolAdmin)},
			{ID: "1", Name: "Platform", Role: string(chat.SuperAdmin)},
		},
	})
	srv.AddMessage("1", chat.RawMessage{
		Content:    "Welcome to the staff room",
		SenderName: "Head Teacher",
		Sender:     json.RawMessage(`7`),
		CreatedAt:  time.Now().Add(-time.Hour).UTC(),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake backend: %v\n", err)
		os.Exit(1)
	}
	hs := &http.Server{Handler: srv.Handler()}
	go hs.Serve(ln)

	config := &schoolchat.Config{}
	config.API.BaseURL = "http://" + ln.Addr().String()
	config.API.Token = "demo-token"
	config.API.TimeoutSeconds = 15
	config.User.ID = "100"
	config.User.Name = "Admin"
	config.User.Role = string(chat.SchoolAdmin)
	config.Sync.IntervalSeconds = 30
	config.Sync.PageSize = 50

	return config, func() { hs.Close() }
}
