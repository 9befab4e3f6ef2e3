package main

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cashbeik/loyalty/config"
	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/routes"
	"github.com/cashbeik/loyalty/utils"
)

func main() {
	if err := utils.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	utils.LogInfo("Starting loyalty backend")

	cfg, err := config.LoadConfig()
	if err != nil {
		utils.LogError("Failed to load config: %v", err)
		panic(err)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		utils.LogError("Failed to initialize database: %v", err)
		panic(err)
	}
	utils.LogInfo("Database connected and migrated")

	engine := core.NewEngine(db, cfg)

	notifier := utils.NewEmailSender(utils.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})

	go maintenanceLoop(engine)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	routes.SetupRoutes(r, engine, cfg, notifier)

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	utils.LogInfo("Listening on :%s", port)
	if err := r.Run(":" + port); err != nil {
		utils.LogError("Server exited: %v", err)
		panic(err)
	}
}

// maintenanceLoop sweeps expired sessions and spent link tokens. Both are
// also cleaned lazily on access; this just keeps the tables small.
func maintenanceLoop(engine *core.Engine) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		if n, err := engine.Sessions.PurgeOlderThan(24 * time.Hour); err != nil {
			utils.LogError("Session purge failed: %v", err)
		} else if n > 0 {
			utils.LogInfo("Purged %d stale sessions", n)
		}
		if n, err := engine.Tokens.PurgeExpiredLinks(24 * time.Hour); err != nil {
			utils.LogError("Link token purge failed: %v", err)
		} else if n > 0 {
			utils.LogInfo("Purged %d spent link tokens", n)
		}
	}
}
