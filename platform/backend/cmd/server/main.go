package main

import "log"

func main() {
	config := LoadConfig()

	server, err := NewServer(config)
	if err != nil {
		log.Fatal("server initialization failed:", err)
	}

	if err := server.Run(); err != nil {
		log.Fatal("server exited:", err)
	}
}
