package main

import (
	"fmt"
	"os"
)

//	@title			Product Matcher API
//	@version		1.0
//	@description	Сопоставление изображений из тикетов поддержки с товарами каталога.
//	@BasePath		/api/v1

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
