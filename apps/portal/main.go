package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/sggenna/fluency/core"
	"github.com/sggenna/fluency/core/user"
	"github.com/sggenna/fluency/session"
)

var readPasswordFunc = term.ReadPassword // mockable

func main() {
	portalFlag := flag.String("portal", "", "portal to open on start: student or teacher")
	flag.Parse()

	conf, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading config: %+v", err)
	}

	store := session.NewFileStore(conf.Client.TokenFile)
	mgr := session.NewManager(session.NewClient(conf.Client), store)
	gate := session.NewGate(mgr)

	ctx := context.Background()
	mgr.Bootstrap(ctx)

	in := bufio.NewReader(os.Stdin)

	switch *portalFlag {
	case "":
	case "student":
		gate.Select(session.PortalStudent)
	case "teacher":
		gate.Select(session.PortalTeacher)
	default:
		log.Fatalf("unknown portal %q", *portalFlag)
	}

	for {
		v := gate.View()
		switch v.State {
		case session.GateIdle:
			fmt.Println("Portals: [s]tudent, [t]eacher, [q]uit")
			switch prompt(in, "> ") {
			case "s", "student":
				gate.Select(session.PortalStudent)
			case "t", "teacher":
				gate.Select(session.PortalTeacher)
			case "q", "quit":
				return
			}
		case session.GateLogin, session.GateDenied:
			if v.Reason != "" {
				fmt.Println(v.Reason)
			}
			fmt.Printf("Sign in to the %s (empty email to go back)\n", v.Portal.Label())
			email := prompt(in, "email: ")
			if email == "" {
				gate.Back()
				continue
			}
			pwd, err := promptPassword()
			if err != nil {
				log.Fatalf("reading password: %v", err)
			}
			_ = gate.Submit(ctx, email, pwd) // failure loops back to the prompt
		case session.GateGranted:
			runPortal(ctx, gate, mgr, in, v)
		}
	}
}

func runPortal(ctx context.Context, gate *session.Gate, mgr *session.Manager, in *bufio.Reader, v session.GateView) {
	fmt.Printf("Welcome to the %s, %s!\n", v.Portal.Label(), v.User.FullName())
	for {
		switch prompt(in, string(v.Portal)+"> ") {
		case "me":
			if usr := mgr.RefreshUser(ctx); usr != nil {
				printUser(*usr)
			} else {
				fmt.Println("session expired, please sign in again")
				return
			}
		case "edit":
			editProfile(ctx, mgr, in)
		case "logout":
			gate.Logout()
			return
		case "quit":
			os.Exit(0)
		default:
			fmt.Println("commands: me, edit, logout, quit")
		}
	}
}

func editProfile(ctx context.Context, mgr *session.Manager, in *bufio.Reader) {
	up := user.UpdateProfile{
		FirstName: prompt(in, "first name (empty to keep): "),
		LastName:  prompt(in, "last name (empty to keep): "),
		Phone:     prompt(in, "phone (empty to keep): "),
		Bio:       prompt(in, "bio (empty to keep): "),
		Email:     prompt(in, "email (empty to keep): "),
	}
	if up.Email != "" {
		// changing the email requires re-entering the current password
		pwd, err := promptPassword()
		if err != nil {
			log.Fatalf("reading password: %v", err)
		}
		up.CurrentPassword = pwd
	}

	usr, err := mgr.UpdateMe(ctx, up)
	if err != nil {
		if authErr, ok := session.IsAuthError(err); ok {
			fmt.Println(authErr.Message)
		} else {
			fmt.Println("unable to update profile, please try again")
		}
		return
	}
	printUser(usr)
}

func printUser(usr user.User) {
	fmt.Printf("%s <%s> - %s\n", usr.FullName(), usr.Email, strings.ToLower(usr.Role))
	if usr.Profile.Phone != "" {
		fmt.Printf("phone: %s\n", usr.Profile.Phone)
	}
	if usr.Profile.Bio != "" {
		fmt.Printf("bio: %s\n", usr.Profile.Bio)
	}
}

func prompt(in *bufio.Reader, label string) string {
	fmt.Print(label)
	line, err := in.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

func promptPassword() (string, error) {
	fmt.Print("password: ")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	return string(pwd), err
}
