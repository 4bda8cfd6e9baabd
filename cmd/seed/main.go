package main

import (
	"github.com/sandeepkv93/product-catalog-backend/internal/tools/common"
	tool "github.com/sandeepkv93/product-catalog-backend/internal/tools/seed"
)

func main() {
	common.Main(tool.NewRootCommand().Execute)
}
