package main

import (
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"

	"livebid/models"
)

// 輸出 models 對應的 Postgres DDL，供 atlas migrate diff 使用
//
//	atlas migrate diff --env gorm
func main() {
	stmts, err := gormschema.New("postgres").Load(models.Tables()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	if _, err := io.WriteString(os.Stdout, stmts); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}
