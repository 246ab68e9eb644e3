package testuploads_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/raidsync/internal/adapters/auth"
	"github.com/okian/raidsync/internal/adapters/http/api"
	"github.com/okian/raidsync/internal/adapters/rpc"
	"github.com/okian/raidsync/internal/adapters/secrets"
	service "github.com/okian/raidsync/internal/app"
	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/internal/testuploads"
	"github.com/okian/raidsync/pkg/logger"
)

const signingKey = "load-test-signing-key"

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithLevel("error")); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestGenerate(t *testing.T) {
	Convey("Given generated encounters", t, func() {
		encounters, err := testuploads.Generate(context.Background(), 3, 2)
		So(err, ShouldBeNil)
		So(encounters, ShouldHaveLength, 3)

		Convey("Then each has four players and one upload per uploader", func() {
			for _, enc := range encounters {
				So(enc.Players, ShouldHaveLength, testuploads.PlayersPerEncounter)
				So(enc.Uploads, ShouldHaveLength, 2)
				So(enc.Uploads[0].Identity, ShouldEqual, enc.Players[0])
				So(enc.Uploads[1].Identity, ShouldEqual, enc.Players[1])

				var raw model.RawUpload
				So(json.Unmarshal(enc.Uploads[1].Body, &raw), ShouldBeNil)
				So(raw.LocalPlayer, ShouldEqual, enc.Players[1])
				So(raw.Entities, ShouldHaveLength, testuploads.PlayersPerEncounter+2)
			}
			So(encounters[0].Players[0], ShouldNotEqual, encounters[1].Players[0])
		})

		Convey("Then an out of range uploader count is refused", func() {
			_, err := testuploads.Generate(context.Background(), 1, 5)
			So(err, ShouldNotBeNil)
			_, err = testuploads.Generate(context.Background(), 1, 0)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a service wired to the stand-in system of record", t, func() {
		ctx := context.Background()
		records := testuploads.NewRecords()
		peer := httptest.NewServer(records)
		defer peer.Close()

		client := rpc.New("ws"+strings.TrimPrefix(peer.URL, "http"), rpc.WithTimeout(2*time.Second))
		So(client.Start(ctx), ShouldBeNil)
		defer client.Stop()
		So(client.Connected(), ShouldBeTrue)

		svc := service.New(
			service.WithGateway(client),
			service.WithAuthenticator(auth.NewResolver(secrets.Static{Key: signingKey}, client)),
			service.WithWindow(300*time.Millisecond),
			service.WithWorkerCount(2),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		srv := httptest.NewServer(api.NewServer(svc, svc).Handler())
		defer srv.Close()

		Convey("When four players upload each of three encounters", func() {
			err := testuploads.Run(ctx, &testuploads.Config{
				BaseURL:    srv.URL,
				Encounters: 3,
				Uploaders:  4,
				Workers:    4,
				Timeout:    5 * time.Second,
				Settle:     10 * time.Second,
				SigningKey: signingKey,
			})

			Convey("Then every encounter lands in one finalized record", func() {
				So(err, ShouldBeNil)
				So(svc.GetStats()["encounters"], ShouldEqual, int64(3))
				So(records.Notices(), ShouldEqual, 3)
			})
		})

		Convey("When tokens are signed with the wrong key", func() {
			err := testuploads.Run(ctx, &testuploads.Config{
				BaseURL:    srv.URL,
				Encounters: 1,
				Uploaders:  1,
				Workers:    1,
				Timeout:    5 * time.Second,
				Settle:     time.Second,
				SigningKey: "another-key",
			})

			Convey("Then the run fails and nothing is pending", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "1 of 1 uploads failed")
				So(svc.GetStats()["pending"], ShouldEqual, 0)
			})
		})
	})
}
