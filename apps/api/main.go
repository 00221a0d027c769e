package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/kymaka/elimu/apps/api/echo"
	"github.com/kymaka/elimu/core"
	"github.com/kymaka/elimu/core/requirements"
	emailsvc "github.com/kymaka/elimu/services/email"
	logsvc "github.com/kymaka/elimu/services/logger"
	registrysvc "github.com/kymaka/elimu/services/registry"
	sqlitekv "github.com/kymaka/elimu/storage/kv/sqlite"
)

func main() {
	conf := core.NewConfig()
	std := log.New(os.Stdout, conf.AppName+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	var logger core.Logger
	if conf.Debug {
		logger = logsvc.NewStdLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
	}

	// set up validators
	validate := validator.New()
	enLocale := en.New()
	translator, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	core.InitValidators(validate, translator)

	// set up local store
	store, err := sqlitekv.Open(conf.Storage.Path)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening local store: %v", err), err)
	}
	defer func() { _ = store.Close() }()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	registry := registrysvc.NewHTTPRegistry(conf, logger)
	mgr := requirements.NewManager(store, registry, mailSvc, logger, conf)

	// start API server
	app := echoapi.NewServer(
		&echoapi.Options{
			Address:    fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port),
			Conf:       conf,
			Logger:     logger,
			Manager:    mgr,
			Validate:   validate,
			Translator: translator,
		},
	)
	app.Start()
}
