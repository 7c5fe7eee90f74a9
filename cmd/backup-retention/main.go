// Точка входа backup-retention: очистка резервных копий по многоуровневой
// политике хранения, загрузка в удалённые хранилища (WebDAV, FTP, CIFS)
// и HTTP API режима serve.
package main

import (
	"context"
	"os"

	"github.com/bigkaa/backup-retention/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
