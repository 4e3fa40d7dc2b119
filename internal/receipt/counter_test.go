package receipt

import (
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("FileCounter", func() {
	var (
		path    string
		counter *FileCounter
		err     error
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "state", "counter.txt")
	})

	JustBeforeEach(func() {
		counter, err = NewFileCounter(path)
	})

	When("the file does not exist", func() {
		It("should create it holding zero", func() {
			Expect(err).NotTo(HaveOccurred())
			content, readErr := os.ReadFile(path)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(string(content)).To(Equal("0"))
		})

		It("should report zero as current", func() {
			current, err := counter.Current()
			Expect(err).NotTo(HaveOccurred())
			Expect(current).To(BeZero())
		})

		It("should hand out 1 first", func() {
			next, err := counter.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(next).To(Equal(uint64(1)))
		})
	})

	When("the file holds a value", func() {
		BeforeEach(func() {
			Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("41\n"), 0644)).To(Succeed())
		})

		It("should continue from it", func() {
			next, err := counter.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(next).To(Equal(uint64(42)))
		})

		It("should persist the new value as plain decimal text", func() {
			_, err := counter.Next()
			Expect(err).NotTo(HaveOccurred())
			content, readErr := os.ReadFile(path)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(string(content)).To(Equal("42"))
		})

		It("should be read back by a fresh counter", func() {
			_, err := counter.Next()
			Expect(err).NotTo(HaveOccurred())

			reopened, err := NewFileCounter(path)
			Expect(err).NotTo(HaveOccurred())
			current, err := reopened.Current()
			Expect(err).NotTo(HaveOccurred())
			Expect(current).To(Equal(uint64(42)))
		})

		It("should advance by exactly k after k calls", func() {
			for i := 0; i < 5; i++ {
				_, err := counter.Next()
				Expect(err).NotTo(HaveOccurred())
			}
			current, err := counter.Current()
			Expect(err).NotTo(HaveOccurred())
			Expect(current).To(Equal(uint64(46)))
		})

		It("should leave no temporary files behind", func() {
			_, err := counter.Next()
			Expect(err).NotTo(HaveOccurred())
			entries, readErr := os.ReadDir(filepath.Dir(path))
			Expect(readErr).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})
	})

	When("the file is corrupt", func() {
		BeforeEach(func() {
			Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("forty-one"), 0644)).To(Succeed())
		})

		It("should refuse to advance", func() {
			Expect(err).NotTo(HaveOccurred())
			_, err := counter.Next()
			Expect(err).To(MatchError(ContainSubstring("corrupt")))
		})

		It("should not overwrite the file", func() {
			counter.Next()
			content, readErr := os.ReadFile(path)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(string(content)).To(Equal("forty-one"))
		})
	})

	When("called concurrently", func() {
		It("should hand out distinct consecutive values", func() {
			const workers = 20
			values := make(chan uint64, workers)
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					v, err := counter.Next()
					Expect(err).NotTo(HaveOccurred())
					values <- v
				}()
			}
			wg.Wait()
			close(values)

			seen := map[uint64]bool{}
			for v := range values {
				seen[v] = true
			}
			Expect(seen).To(HaveLen(workers))
			for v := uint64(1); v <= workers; v++ {
				Expect(seen).To(HaveKey(v))
			}
		})
	})
})

var _ = Describe("LedgerCounter", func() {
	var (
		db      *BoltDB
		counter *LedgerCounter
	)

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "ledger.db"))
		Expect(err).NotTo(HaveOccurred())
		counter = NewLedgerCounter(db, ImageSequence)
	})

	AfterEach(func() {
		db.Close()
	})

	It("should advance the ledger sequence", func() {
		first, err := counter.Next()
		Expect(err).NotTo(HaveOccurred())
		second, err := counter.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal(uint64(1)))
		Expect(second).To(Equal(uint64(2)))

		current, err := counter.Current()
		Expect(err).NotTo(HaveOccurred())
		Expect(current).To(Equal(uint64(2)))
	})

	It("should not interfere with receipt ids", func() {
		_, err := counter.Next()
		Expect(err).NotTo(HaveOccurred())
		_, err = counter.Next()
		Expect(err).NotTo(HaveOccurred())

		id, err := db.InsertReceipt(decimal.RequireFromString("1.00"), "2024-01-01 00:00:00", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(uint64(1)))
	})
})

var _ = Describe("Raise", func() {
	It("should move a file counter forward but never back", func() {
		counter, err := NewFileCounter(filepath.Join(GinkgoT().TempDir(), "counter.txt"))
		Expect(err).NotTo(HaveOccurred())

		Expect(counter.Raise(9)).To(Succeed())
		next, err := counter.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal(uint64(10)))

		Expect(counter.Raise(4)).To(Succeed())
		current, err := counter.Current()
		Expect(err).NotTo(HaveOccurred())
		Expect(current).To(Equal(uint64(10)))
	})

	It("should move a ledger counter forward", func() {
		db, err := NewBoltDB(filepath.Join(GinkgoT().TempDir(), "ledger.db"))
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()
		counter := NewLedgerCounter(db, ImageSequence)

		Expect(counter.Raise(3)).To(Succeed())
		next, err := counter.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal(uint64(4)))
	})
})

var _ = Describe("AlignCounter", func() {
	var (
		imgDir  string
		storage *LocalStorage
		counter *FileCounter
		aligned uint64
		err     error
	)

	BeforeEach(func() {
		imgDir = GinkgoT().TempDir()
		var setupErr error
		storage, setupErr = NewLocalStorage(imgDir)
		Expect(setupErr).NotTo(HaveOccurred())
		counter, setupErr = NewFileCounter(filepath.Join(GinkgoT().TempDir(), "counter.txt"))
		Expect(setupErr).NotTo(HaveOccurred())
	})

	JustBeforeEach(func() {
		aligned, err = AlignCounter(counter, storage)
	})

	When("a fresh counter meets a directory of earlier captures", func() {
		BeforeEach(func() {
			for _, name := range []string{"1.png", "2.jpg", "3.png"} {
				Expect(os.WriteFile(filepath.Join(imgDir, name), []byte("x"), 0644)).To(Succeed())
			}
		})

		It("should raise the counter to the highest stored sequence", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(aligned).To(Equal(uint64(3)))
		})

		It("should let the next capture save without colliding", func() {
			next, nextErr := counter.Next()
			Expect(nextErr).NotTo(HaveOccurred())
			Expect(next).To(Equal(uint64(4)))
			_, saveErr := storage.Save("4.png", []byte("y"))
			Expect(saveErr).NotTo(HaveOccurred())
		})

		It("should leave the stored images untouched", func() {
			content, readErr := os.ReadFile(filepath.Join(imgDir, "2.jpg"))
			Expect(readErr).NotTo(HaveOccurred())
			Expect(string(content)).To(Equal("x"))
		})
	})

	When("the counter is already ahead of the stored images", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(filepath.Join(imgDir, "2.png"), []byte("x"), 0644)).To(Succeed())
			Expect(counter.Raise(10)).To(Succeed())
		})

		It("should leave it alone", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(aligned).To(Equal(uint64(10)))
		})
	})
})
