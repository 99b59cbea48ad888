package main

import (
	"fmt"

	_ "github.com/agentuity/rescache/embeddings"
	_ "github.com/agentuity/rescache/engine"
	_ "github.com/agentuity/rescache/keys"
	_ "github.com/agentuity/rescache/semantic"
	_ "github.com/agentuity/rescache/store"
)

func main() {
	fmt.Println("Hi")
}
