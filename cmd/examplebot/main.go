// Command examplebot is a minimal consumer of the discordrb package: it
// logs in with a bot token from the environment, greets mentions, and
// shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/avengerx/discordrb"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[INFO] no .env file found, falling back to system environment variables")
	}

	token := os.Getenv("DISCORD_TOKEN")
	if token == "" {
		log.Fatal("[ERR] DISCORD_TOKEN is not set")
	}

	cachePath := os.Getenv("TOKEN_CACHE_PATH")
	if cachePath == "" {
		cachePath = "examplebot_tokens.json"
	}

	client, err := discordrb.New(discordrb.Options{
		Identity:       "token",
		Secret:         token,
		BotName:        "examplebot",
		TokenCachePath: cachePath,
	})
	if err != nil {
		log.Fatalf("[ERR] building client: %v", err)
	}

	client.On(discordrb.EventReady, nil, func(ev discordrb.Event) {
		bot := client.BotUser()
		if bot != nil {
			log.Printf("[INFO] ready as %s#%s", bot.Username, bot.Discriminator)
		}
	})

	client.On(discordrb.EventMention, nil, func(ev discordrb.Event) {
		msg, ok := ev.Payload.(*discordrb.Message)
		if !ok {
			return
		}
		if _, err := client.SendMessage(context.Background(), msg.ChannelID, "hey!", false); err != nil {
			log.Printf("[WARN] send reply: %v", err)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Run(false)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("[INFO] received signal %s, shutting down...", s)
		client.Stop()
	case err := <-errCh:
		if err != nil {
			log.Printf("[ERR] session exited: %v", err)
		}
		return
	}

	<-errCh
	log.Println("[INFO] examplebot exited cleanly")
}
