package main

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/trellis/internal/adapters/http/api"
	service "github.com/okian/trellis/internal/app"
	"github.com/okian/trellis/internal/config"
)

func TestMainWiring(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			_ = os.Setenv("TRELLIS_ADDR", ":8080")
			_ = os.Setenv("TRELLIS_IMPORT_BATCH_SIZE", "500")
			defer func() {
				_ = os.Unsetenv("TRELLIS_ADDR")
				_ = os.Unsetenv("TRELLIS_IMPORT_BATCH_SIZE")
			}()

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.ImportBatchSize, convey.ShouldEqual, 500)
			})
		})

		convey.Convey("When testing service creation", func() {
			convey.Convey("Then service should be creatable with default options", func() {
				svc := service.New()
				convey.So(svc, convey.ShouldNotBeNil)
			})

			convey.Convey("And service should be creatable with custom options", func() {
				svc := service.New(
					service.WithImportBatchSize(100),
					service.WithProfileBatchSize(50),
					service.WithDedupeSize(1000),
				)
				convey.So(svc, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When testing HTTP route registration", func() {
			svc := service.New()
			mux := http.NewServeMux()
			api.NewServer(svc).Register(mux)

			convey.Convey("Then the mux should be populated", func() {
				convey.So(mux, convey.ShouldNotBeNil)
			})
		})
	})
}
