// gitship deploys a git repository to a VPS: it clones or updates the
// source, provisions the host with Docker, Docker Compose and nginx, mirrors
// the project tree over SSH, builds and starts the containers and routes the
// public port to the application.
package main

import (
	_ "github.com/joho/godotenv/autoload"

	"gitship/cmd"
)

func main() {
	cmd.Execute()
}
