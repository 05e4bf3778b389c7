package main

import (
	"fmt"
	"os"

	"licensehub/backend/internal/auth"
	"licensehub/backend/internal/config"
	"licensehub/backend/internal/storage"
	"licensehub/backend/internal/storage/memory"
	sqlstore "licensehub/backend/internal/storage/sql"
)

// main 创建管理员账户，写入配置指向的存储。
func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: create-admin <email> <password> <username>")
		os.Exit(1)
	}

	email := os.Args[1]
	password := os.Args[2]
	username := os.Args[3]

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 打开配置指向的存储
	store, err := openStore(cfg)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	svc := auth.NewService(store)
	admin, err := svc.CreateAdmin(auth.CreateAdminInput{
		Email:    email,
		Username: username,
		Password: password,
	})
	if err != nil {
		fmt.Printf("Failed to create admin: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Admin user created successfully!\n")
	fmt.Printf("  ID:       %s\n", admin.ID)
	fmt.Printf("  Email:    %s\n", admin.Email)
	fmt.Printf("  Username: %s\n", admin.Username)

	if cfg.Database.Type == "" {
		fmt.Println("\nNote: no database configured, this user exists only in memory")
		fmt.Println("and will be gone when this process exits. Set LICENSEHUB_DATABASE_TYPE")
		fmt.Println("and LICENSEHUB_DATABASE_DSN to persist admin accounts.")
	}
}

// openStore 按配置打开存储；管理员账户不走缓存，直接用 SQL 存储
func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		return memory.NewStore(), nil
	}

	store, err := sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
