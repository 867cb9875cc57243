package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"signaldesk/config"
)

// 生成 Web 登录密码哈希并写入配置文件
//
//	go run ./tools/set_password <新密码> [config.yaml]
func main() {
	if len(os.Args) < 2 {
		fmt.Println("用法: go run ./tools/set_password <新密码> [配置文件路径]")
		os.Exit(1)
	}
	password := os.Args[1]
	if len(password) < 8 {
		fmt.Println("错误: 密码长度至少 8 位")
		os.Exit(1)
	}
	configPath := "config.yaml"
	if len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("错误: %v\n", err)
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Printf("错误: 生成密码哈希失败: %v\n", err)
		os.Exit(1)
	}
	cfg.Web.PasswordHash = string(hash)

	if err := config.SaveConfig(cfg, configPath); err != nil {
		fmt.Printf("错误: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ 密码已更新: %s\n", configPath)
	fmt.Println("  运行中的服务需要重启后生效")
}
