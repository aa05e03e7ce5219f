// Command dermactl runs offline maintenance against the user collection.
//
//	dermactl migrate-usernames
//	dermactl promote -username <username|id>
//	dermactl create-admin -username admin -email admin@example.com -password secret
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/config"
	"github.com/iliyamo/dermascan/internal/database"
	"github.com/iliyamo/dermascan/internal/queue"
	"github.com/iliyamo/dermascan/internal/repository"
	"github.com/iliyamo/dermascan/internal/service"
)

const usage = `usage: dermactl <command> [flags]

commands:
  migrate-usernames   assign usernames to accounts created before usernames existed
  promote             give an existing user the admin role
  create-admin        create the first admin account if none exists
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg, err := config.LoadTool()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	mc, err := database.Open(cfg.MongoURI)
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	store := database.NewStore(mc.Database(cfg.MongoDB))

	audit := service.NewAuditRecorder(repository.NewAuditRepo(store), queue.NewPublisher(cfg.RabbitURL, zl), zl, cfg.Env)
	svc := service.NewMaintenanceService(repository.NewUserRepo(store), audit, zl)

	switch cmd {
	case "migrate-usernames":
		err = migrateUsernames(ctx, svc, args)
	case "promote":
		err = promote(ctx, svc, args)
	case "create-admin":
		err = createAdmin(ctx, svc, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		zl.Error(cmd+" failed", zap.Error(err))
		os.Exit(1)
	}
}

func migrateUsernames(ctx context.Context, svc *service.MaintenanceService, args []string) error {
	fs := flag.NewFlagSet("migrate-usernames", flag.ExitOnError)
	_ = fs.Parse(args)

	done, err := svc.BackfillUsernames(ctx)
	for _, b := range done {
		fmt.Printf("%s\t%s\t%s\n", b.UserID, b.Email, b.Username)
	}
	if err != nil {
		return err
	}
	fmt.Printf("updated %d users\n", len(done))
	return nil
}

func promote(ctx context.Context, svc *service.MaintenanceService, args []string) error {
	fs := flag.NewFlagSet("promote", flag.ExitOnError)
	ref := fs.String("username", "", "username or user id")
	_ = fs.Parse(args)
	if *ref == "" && fs.NArg() > 0 {
		*ref = fs.Arg(0)
	}
	if *ref == "" {
		log.Fatalf("Missing -username arg")
	}

	u, changed, err := svc.PromoteByRef(ctx, *ref)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Printf("%s is already an admin\n", u.Username)
		return nil
	}
	fmt.Printf("promoted %s (%s)\n", u.Username, u.Email)
	return nil
}

func createAdmin(ctx context.Context, svc *service.MaintenanceService, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	in := service.AdminInput{}
	fs.StringVar(&in.Username, "username", "admin", "admin username")
	fs.StringVar(&in.Email, "email", "", "admin email")
	fs.StringVar(&in.Password, "password", os.Getenv("ADMIN_PASSWORD"), "admin password (defaults to $ADMIN_PASSWORD)")
	fs.StringVar(&in.FirstName, "first", "", "first name")
	fs.StringVar(&in.LastName, "last", "", "last name")
	_ = fs.Parse(args)
	if in.Email == "" || in.Password == "" {
		log.Fatalf("Missing -email or -password arg")
	}

	u, err := svc.CreateAdmin(ctx, in)
	if err != nil {
		return err
	}
	if u == nil {
		fmt.Println("an admin account already exists; nothing to do")
		return nil
	}
	fmt.Printf("created admin %s (%s) id=%s\n", u.Username, u.Email, u.ID.Hex())
	return nil
}
