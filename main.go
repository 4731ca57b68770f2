package main

import (
	"github.com/TristanOther/Bot-Star/cmd"
)

func main() {
	cmd.Execute()
}
