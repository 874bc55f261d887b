// This script is a small convenience tool for manipulating user accounts in
// the configured server database.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/romgate/internal/core"
	"github.com/dcrodman/romgate/internal/core/auth"
	"github.com/dcrodman/romgate/internal/core/data"
)

var (
	configFlag = flag.String("config", "./", "Path to the directory containing the server config file")
	add        = flag.Bool("add", false, "Add an account.")
	del        = flag.Bool("delete", false, "Delete an account permanently.")
	setPoints  = flag.Bool("set-points", false, "Set an account's points total.")
	help       = flag.Bool("help", false, "Print this usage info.")
)

func main() {
	flag.Parse()

	if help != nil && *help {
		flag.Usage()
		os.Exit(0)
	}

	config := core.LoadConfig(*configFlag)

	dataSource := config.Database.File
	if config.Database.Engine == data.EnginePostgres {
		dataSource = config.DatabaseURL()
	}
	db, err := data.Initialize(config.Database.Engine, dataSource, false)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	defer func() {
		_ = data.Shutdown(db)
	}()

	retCode := 0
	switch {
	case add != nil && *add:
		u := scanInput("Username")
		p := scanInput("Password")
		if err := addAccount(db, u, p); err != nil {
			fmt.Println(err.Error())
			retCode = 1
		}
	case del != nil && *del:
		u := scanInput("Username")
		if err := deleteAccount(db, u); err != nil {
			fmt.Println(err.Error())
			retCode = 1
		}
	case setPoints != nil && *setPoints:
		u := scanInput("Username")
		p := scanInput("Points")
		points, err := strconv.Atoi(p)
		if err != nil {
			fmt.Println("points must be an integer")
			retCode = 1
			break
		}
		if err := data.SetPoints(db, u, points); err != nil {
			fmt.Println(err.Error())
			retCode = 1
		}
	default:
		flag.Usage()
		retCode = 1
	}

	os.Exit(retCode)
}

func scanInput(prompt string) string {
	fmt.Printf("%s: ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return scanner.Text()
}

func addAccount(db *gorm.DB, username, password string) error {
	service := auth.NewService(db, logrus.New())
	if err := service.Register(username, password); err != nil {
		return fmt.Errorf("failed to create account: %v", err)
	}
	// Register marks new accounts logged in for the launcher's benefit;
	// accounts created from the CLI start logged out.
	if err := data.MarkLoggedOut(db, username); err != nil {
		return err
	}
	fmt.Println("created account", username)
	return nil
}

func deleteAccount(db *gorm.DB, username string) error {
	account, err := data.FindAccountByUsername(db, username)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("no account with username %q", username)
	}
	if err := data.DeleteAccount(db, account); err != nil {
		return fmt.Errorf("failed to delete account: %v", err)
	}
	fmt.Println("deleted account")
	return nil
}
