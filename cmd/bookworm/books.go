package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/bookworm/internal/reading"
	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
	"github.com/spf13/cobra"
)

func newBookCommand() *cobra.Command {
	bookCmd := &cobra.Command{
		Use:   "book",
		Short: "Manage the books you are reading",
	}
	bookCmd.AddCommand(
		newBookAddCommand(),
		newBookListCommand(),
		newBookShowCommand(),
		newBookUpdateCommand(),
		newBookDeleteCommand(),
		newBookLogCommand(),
		newBookCompleteCommand(),
	)
	return bookCmd
}

func newBookAddCommand() *cobra.Command {
	var (
		input  tracker.NewBook
		lookup bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a book, optionally prefilled from its ISBN",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			var book tracker.Book
			if lookup {
				if strings.TrimSpace(input.ISBN) == "" {
					return fmt.Errorf("--lookup requires --isbn")
				}
				book, err = app.reading.AddBookByISBN(cmd.Context(), input.ISBN, input)
			} else {
				book, err = app.reading.AddBook(cmd.Context(), input)
			}
			if err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Added %q (%s)\n", book.Title, book.ID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&input.Title, "title", "", "Book title")
	flags.StringVar(&input.Author, "author", "", "Author")
	flags.StringVar(&input.ISBN, "isbn", "", "ISBN")
	flags.IntVar(&input.TotalPages, "pages", 0, "Total page count")
	flags.IntVar(&input.CurrentPage, "current", 0, "Current page")
	flags.StringVar(&input.CoverURL, "cover", "", "Cover image URL")
	flags.StringSliceVar(&input.Genres, "genre", nil, "Genre (repeatable)")
	flags.BoolVar(&lookup, "lookup", false, "Prefill missing fields from the ISBN")
	return cmd
}

func newBookListCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List books",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			books := app.store.Books()
			if format != formatText {
				return writeStructured(cmd.OutOrStdout(), format, books)
			}
			out := cmd.OutOrStdout()
			if len(books) == 0 {
				mutedColor.Fprintln(out, "No books yet. Add one with `bookworm book add`.")
				return nil
			}
			for _, book := range books {
				printBookLine(out, book)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "Output format (text, json, yaml)")
	return cmd
}

func printBookLine(out io.Writer, book tracker.Book) {
	status := fmt.Sprintf("%d/%d", book.CurrentPage, book.TotalPages)
	if book.IsCompleted {
		status = successColor.Sprint("done")
	}
	author := ""
	if book.Author != "" {
		author = " by " + book.Author
	}
	fmt.Fprintf(out, "%s  %s%s  %s\n", mutedColor.Sprint(book.ID), headingColor.Sprint(book.Title), author, status)
}

func newBookShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show a book with its sessions and notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			book, ok := app.store.GetBook(args[0])
			if !ok {
				return fmt.Errorf("%w: book %s", tracker.ErrNotFound, args[0])
			}
			out := cmd.OutOrStdout()
			printBookLine(out, book)
			if len(book.Genres) > 0 {
				fmt.Fprintf(out, "  genres: %s\n", strings.Join(book.Genres, ", "))
			}
			if book.Rating != nil {
				fmt.Fprintf(out, "  rating: %d/5\n", *book.Rating)
			}
			if book.Review != nil {
				fmt.Fprintf(out, "  review: %s\n", *book.Review)
			}
			entries := app.store.ProgressEntries(book.ID)
			if len(entries) > 0 {
				headingColor.Fprintln(out, "Sessions")
				for _, entry := range entries {
					fmt.Fprintf(out, "  %s  %d pages  %d min\n",
						entry.CreatedAt.In(app.cfg.ChallengeLocation).Format("2006-01-02 15:04"),
						entry.PagesRead, entry.TimeSpentMinutes)
				}
			}
			notes := app.store.Notes(book.ID)
			if len(notes) > 0 {
				headingColor.Fprintln(out, "Notes")
				for _, note := range notes {
					fmt.Fprintf(out, "  %s  %s\n", mutedColor.Sprint(note.ID), note.Content)
				}
			}
			return nil
		},
	}
}

func newBookUpdateCommand() *cobra.Command {
	var (
		title, author, isbn, cover string
		pages, current             int
		genres                     []string
		reset                      bool
	)
	cmd := &cobra.Command{
		Use:   "update <book-id>",
		Short: "Change book fields; only the flags given are applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			update := tracker.BookUpdate{ResetProgress: reset}
			if flags.Changed("title") {
				update.Title = &title
			}
			if flags.Changed("author") {
				update.Author = &author
			}
			if flags.Changed("isbn") {
				update.ISBN = &isbn
			}
			if flags.Changed("cover") {
				update.CoverURL = &cover
			}
			if flags.Changed("pages") {
				update.TotalPages = &pages
			}
			if flags.Changed("current") {
				update.CurrentPage = &current
			}
			if flags.Changed("genre") {
				update.Genres = &genres
			}

			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			book, err := app.reading.UpdateBook(cmd.Context(), args[0], update)
			if err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Updated %q\n", book.Title)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&title, "title", "", "Book title")
	flags.StringVar(&author, "author", "", "Author")
	flags.StringVar(&isbn, "isbn", "", "ISBN")
	flags.StringVar(&cover, "cover", "", "Cover image URL")
	flags.IntVar(&pages, "pages", 0, "Total page count")
	flags.IntVar(&current, "current", 0, "Current page")
	flags.StringSliceVar(&genres, "genre", nil, "Genres (replaces the list)")
	flags.BoolVar(&reset, "reset", false, "Allow moving the current page backwards and reopen a finished book")
	return cmd
}

func newBookDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book with its sessions and notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.reading.DeleteBook(cmd.Context(), args[0]); err != nil {
				return err
			}
			successColor.Fprintln(cmd.OutOrStdout(), "Deleted")
			return nil
		},
	}
}

func newBookLogCommand() *cobra.Command {
	var pages, minutes int
	cmd := &cobra.Command{
		Use:   "log <book-id>",
		Short: "Log a reading session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.reading.LogProgress(cmd.Context(), reading.ProgressLog{BookID: args[0], Pages: pages, Minutes: minutes})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s now at page %d of %d\n", result.Book.Title, result.Book.CurrentPage, result.Book.TotalPages)
			if result.Completed {
				successColor.Fprintf(out, "Finished %q!\n", result.Book.Title)
			}
			if result.Challenge != nil {
				printChallengeEvents(out, *result.Challenge)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 0, "Pages read")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "Minutes spent reading")
	return cmd
}

func newBookCompleteCommand() *cobra.Command {
	var (
		rating int
		review string
	)
	cmd := &cobra.Command{
		Use:   "complete <book-id>",
		Short: "Mark a book finished with an optional rating and review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			completion := reading.Completion{Review: review}
			if cmd.Flags().Changed("rating") {
				completion.Rating = &rating
			}

			app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
			if err != nil {
				return err
			}
			defer app.Close()

			book, err := app.reading.CompleteBook(cmd.Context(), args[0], completion)
			if err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Finished %q!\n", book.Title)
			return nil
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "Rating from 1 to 5")
	cmd.Flags().StringVar(&review, "review", "", "Review text")
	return cmd
}

func newNoteCommand() *cobra.Command {
	noteCmd := &cobra.Command{
		Use:   "note",
		Short: "Manage book notes",
	}
	noteCmd.AddCommand(
		&cobra.Command{
			Use:   "add <book-id> <text...>",
			Short: "Add a note to a book",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
				if err != nil {
					return err
				}
				defer app.Close()

				note, err := app.reading.AddNote(cmd.Context(), args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				successColor.Fprintf(cmd.OutOrStdout(), "Added note %s\n", note.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list <book-id>",
			Short: "List a book's notes",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
				if err != nil {
					return err
				}
				defer app.Close()

				for _, note := range app.store.Notes(args[0]) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n",
						mutedColor.Sprint(note.ID),
						note.CreatedAt.In(app.cfg.ChallengeLocation).Format("2006-01-02"),
						note.Content)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <note-id>",
			Short: "Delete a note",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := openClient(cmd.Context(), openOptions{syncOnLoad: true})
				if err != nil {
					return err
				}
				defer app.Close()

				if err := app.reading.DeleteNote(cmd.Context(), args[0]); err != nil {
					return err
				}
				successColor.Fprintln(cmd.OutOrStdout(), "Deleted")
				return nil
			},
		},
	)
	return noteCmd
}
