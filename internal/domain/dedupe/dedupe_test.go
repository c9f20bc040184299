package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mobsense/mobsense/internal/domain/dedupe"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new in-memory deduper", t, func() {
		ctx := context.Background()

		Convey("When recording identity keys", func() {
			d := dedupe.NewInMemory()

			Convey("And the key is new", func() {
				seen := d.SeenAndRecord(ctx, "speed|1|1700000000")

				Convey("Then it is recorded as unseen", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the key was already recorded", func() {
				d.SeenAndRecord(ctx, "speed|1|1700000000")
				seen := d.SeenAndRecord(ctx, "speed|1|1700000000")

				Convey("Then it reports a duplicate", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And several distinct keys are recorded", func() {
				for i := 0; i < 5; i++ {
					seen := d.SeenAndRecord(ctx, fmt.Sprintf("speed|1|%d", i))
					So(seen, ShouldBeFalse)
				}
				So(d.Size(), ShouldEqual, 5)
			})
		})

		Convey("When unrecording keys", func() {
			d := dedupe.NewInMemory()
			d.SeenAndRecord(ctx, "k1")

			Convey("And the key exists", func() {
				d.Unrecord(ctx, "k1")

				Convey("Then it can be recorded again", func() {
					So(d.Size(), ShouldEqual, 0)
					So(d.SeenAndRecord(ctx, "k1"), ShouldBeFalse)
				})
			})

			Convey("And the key does not exist", func() {
				d.Unrecord(ctx, "missing")
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the deduper is bounded", func() {
			d := dedupe.NewInMemory(dedupe.WithMaxSize(3))

			Convey("And more keys arrive than fit", func() {
				for i := 0; i < 5; i++ {
					d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i))
				}

				Convey("Then the oldest keys are evicted first", func() {
					So(d.Size(), ShouldEqual, 3)
					So(d.SeenAndRecord(ctx, "k0"), ShouldBeFalse) // evicted
					So(d.SeenAndRecord(ctx, "k4"), ShouldBeTrue)  // retained
				})
			})
		})

		Convey("When accessed concurrently", func() {
			d := dedupe.NewInMemory()
			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						d.SeenAndRecord(ctx, fmt.Sprintf("g%d-%d", g, i))
					}
				}(g)
			}
			wg.Wait()

			Convey("Then every key is recorded exactly once", func() {
				So(d.Size(), ShouldEqual, 800)
			})
		})
	})
}
