package association_test

import (
	"strconv"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/raidsync/internal/domain/association"
	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/internal/testutil"
)

func TestDerive(t *testing.T) {
	Convey("Given a zone and its participants", t, func() {
		z := model.Zone{ID: 200}
		boss := testutil.Boss("b1", 620010, testutil.DefaultStartedOn)

		Convey("Then the key is the sorted player ids and the zone id", func() {
			key := association.Derive(z, []model.Entity{
				testutil.Player("c3", 1), boss, testutil.Player("a1", 1), testutil.Player("b2", 2),
			})
			So(key.String(), ShouldEqual, "a1b2c3::200")
		})

		Convey("Then entity order does not change the key", func() {
			k1 := association.Derive(z, []model.Entity{testutil.Player("x", 1), testutil.Player("y", 1), boss})
			k2 := association.Derive(z, []model.Entity{boss, testutil.Player("y", 1), testutil.Player("x", 1)})
			So(k1, ShouldEqual, k2)
			So(k1.Digest(), ShouldEqual, k2.Digest())
		})

		Convey("Then a different zone produces a different key", func() {
			players := []model.Entity{testutil.Player("x", 1)}
			So(association.Derive(z, players), ShouldNotEqual, association.Derive(model.Zone{ID: 201}, players))
		})

		Convey("Then non-players are ignored", func() {
			key := association.Derive(z, []model.Entity{testutil.Esther("e1"), testutil.Player("p", 1)})
			So(key.String(), ShouldEqual, "p::200")
		})

		Convey("Then every digest is sixteen lowercase hex digits", func() {
			players := []model.Entity{testutil.Player("x", 1), testutil.Player("y", 1)}
			for id := 1; id <= 512; id++ {
				d := association.Derive(model.Zone{ID: id}, players).Digest()
				So(d, ShouldHaveLength, 16)
				_, err := strconv.ParseUint(d, 16, 64)
				So(err, ShouldBeNil)
				So(d, ShouldEqual, strings.ToLower(d))
			}
		})
	})
}
