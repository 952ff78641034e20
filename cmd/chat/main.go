package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mindful-backend/internal/chatclient"
	"mindful-backend/internal/model"
	"mindful-backend/internal/notify"
	"mindful-backend/pkg/logger"
)

func main() {
	var (
		server string
		token  string
		system string
		demo   bool
	)
	flag.StringVar(&server, "server", "http://localhost:8080", "服务端地址")
	flag.StringVar(&token, "token", os.Getenv("MINDFUL_TOKEN"), "JWT 令牌")
	flag.StringVar(&system, "system", "", "系统提示词，为空时不发送")
	flag.BoolVar(&demo, "demo", false, "演示模式，不读写历史记录")
	flag.Parse()

	if err := logger.Init(logger.Options{Level: "error"}); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := notify.NewBus()
	defer bus.Close()

	// 回调串行调用，map 不需要加锁
	shown := make(map[string]bool)
	bus.Subscribe(func(notices []notify.Notice) {
		for _, n := range notices {
			if n.Open && !shown[n.ID] {
				shown[n.ID] = true
				fmt.Fprintf(os.Stderr, "\n[%s] %s\n", n.Title, n.Description)
			}
		}
	})

	client := &http.Client{}
	var store chatclient.Store
	if !demo {
		store = chatclient.NewHTTPStore(server, token, client)
	}

	session := chatclient.NewSession(chatclient.NewRelayClient(server, token, client), store, chatclient.SessionOptions{
		SystemPrompt: system,
		Notices:      bus,
	})

	session.Load(ctx)
	for _, m := range session.Transcript().Messages() {
		printMessage(m)
	}

	// 只打印新增的部分
	printed := 0
	session.OnUpdate(func(msgs []model.Message) {
		if !session.Transcript().IsOpen() || len(msgs) == 0 {
			return
		}
		last := msgs[len(msgs)-1]
		if len(last.Content) > printed {
			fmt.Print(last.Content[printed:])
			printed = len(last.Content)
		}
	})

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nyou> ")
		if !scanner.Scan() {
			break
		}
		input := scanner.Text()
		if strings.TrimSpace(input) == "" {
			continue
		}

		printed = 0
		fmt.Print("claude> ")
		if _, err := session.Send(ctx, input); err != nil {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		fmt.Println()
	}
}

func printMessage(m model.Message) {
	name := "you"
	if m.Role == model.RoleAssistant {
		name = "claude"
	}
	fmt.Printf("%s> %s\n", name, m.Content)
}
